// Package interceptor runs a traffic.Addon inside an elazarl/goproxy
// server.  CONNECT requests for hosts on the pass-through list become plain
// TCP tunnels; every other host is intercepted with a certificate signed by
// the configured CA and its exchanges flow through the addon callbacks.
package interceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/client"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/traffic"
)

// Config wires a Proxy to its collaborators.
type Config struct {
	// Pass is the live pass-through list; nil starts empty.
	Pass *traffic.PassList

	// Transport carries intercepted requests upstream; nil builds a
	// Chrome-parrot transport over Dial.
	Transport *client.Transport

	// Dial opens CONNECT tunnels; nil dials directly.
	Dial client.ContextDialer

	// CA signs intercepted hosts; nil uses goproxy's built-in CA.
	CA *tls.Certificate

	// RequestTimeout bounds one upstream exchange including its body.
	RequestTimeout time.Duration
}

// Proxy is the goproxy host of a traffic.Addon.  It implements
// traffic.Host.
type Proxy struct {
	server  *goproxy.ProxyHttpServer
	pass    *traffic.PassList
	tr      *client.Transport
	dial    client.ContextDialer
	addon   *traffic.Addon
	mitm    *goproxy.ConnectAction
	timeout time.Duration
	log     *logger.Logger
}

var _ traffic.Host = (*Proxy)(nil)

// LoadCA reads the interception CA from a PEM certificate and key.
func LoadCA(certFile, keyFile string) (*tls.Certificate, error) {
	ca, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("interceptor: load ca %q: %w", certFile, err)
	}
	return &ca, nil
}

// New builds a Proxy and the Addon it hosts.  opts configure the Addon.
func New(cfg Config, log *logger.Logger, opts ...traffic.Option) (*Proxy, error) {
	if log == nil {
		log = logger.Nop()
	}
	pass := cfg.Pass
	if pass == nil {
		var err error
		if pass, err = traffic.NewPassList(); err != nil {
			return nil, err
		}
	}
	dial := cfg.Dial
	if dial == nil {
		dial = &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	}
	tr := cfg.Transport
	if tr == nil {
		tr = client.NewTransport(client.Config{Dial: dial})
	}

	p := &Proxy{
		server:  goproxy.NewProxyHttpServer(),
		pass:    pass,
		tr:      tr,
		dial:    dial,
		mitm:    goproxy.MitmConnect,
		timeout: cfg.RequestTimeout,
		log:     log.Named("interceptor"),
	}
	if cfg.CA != nil {
		p.mitm = &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: goproxy.TLSConfigFromCA(cfg.CA)}
	}

	s := p.server
	s.Logger = stdLog{p.log}
	s.KeepAcceptEncoding = true
	s.KeepDestinationHeaders = true
	s.ConnectDialWithReq = func(req *http.Request, network, addr string) (net.Conn, error) {
		return p.dial.DialContext(req.Context(), network, addr)
	}
	s.OnRequest().HandleConnectFunc(p.handleConnect)
	s.OnRequest().DoFunc(p.onRequest)
	s.OnResponse().DoFunc(p.onResponse)

	p.addon = traffic.New(p, log, opts...)
	return p, nil
}

// Addon returns the hosted addon.
func (p *Proxy) Addon() *traffic.Addon { return p.addon }

// Handler returns the proxy's HTTP handler.
func (p *Proxy) Handler() http.Handler { return p.server }

// ListenAndServe serves the proxy on addr until ctx is cancelled.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.server,
		ReadHeaderTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	p.log.Info("proxy listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("interceptor: listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	p.tr.CloseIdleConnections()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("interceptor: shutdown: %w", err)
	}
	return nil
}

// ─── Host contract ───────────────────────────────────────────────────────────

// Passthrough returns the live pass-through patterns.
func (p *Proxy) Passthrough() []string { return p.pass.Patterns() }

// AddPassthrough adds pattern to the live list.
func (p *Proxy) AddPassthrough(pattern string) error {
	added, err := p.pass.Add(pattern)
	if err != nil {
		return fmt.Errorf("interceptor: add passthrough %q: %w", pattern, err)
	}
	if added {
		p.log.Info("pass-through added", zap.String("pattern", pattern))
	}
	return nil
}

// RemovePassthrough drops pattern from the live list.
func (p *Proxy) RemovePassthrough(pattern string) error {
	p.pass.Remove(pattern)
	return nil
}

// CloseServer drops the upstream connections of f's origin and marks the
// client connection for close, so the browser's next attempt opens a new
// CONNECT that the pass-through list now tunnels.
func (p *Proxy) CloseServer(f *traffic.Flow) error {
	if f == nil || f.Request == nil || f.Request.URL == nil {
		return errors.New("interceptor: close server: flow has no request")
	}
	p.tr.Forget(client.Addr(f.Request.URL))
	if f.Response != nil {
		f.Response.Close = true
		if f.Response.Header == nil {
			f.Response.Header = make(http.Header)
		}
		f.Response.Header.Set("Connection", "close")
	}
	return nil
}

// ─── goproxy hooks ───────────────────────────────────────────────────────────

func (p *Proxy) handleConnect(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
	name := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = h
	}
	if p.pass.Match(name) {
		p.log.Debug("tunnel", zap.String("host", host))
		return goproxy.OkConnect, host
	}
	return p.mitm, host
}

func (p *Proxy) onRequest(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	f := &traffic.Flow{Request: req}
	ctx.UserData = f
	p.addon.OnRequest(f)
	ctx.RoundTripper = goproxy.RoundTripperFunc(p.roundTrip)
	return f.Request, nil
}

func (p *Proxy) roundTrip(req *http.Request, _ *goproxy.ProxyCtx) (*http.Response, error) {
	if p.timeout <= 0 {
		return p.tr.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), p.timeout)
	resp, err := p.tr.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (p *Proxy) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	f, ok := ctx.UserData.(*traffic.Flow)
	if !ok {
		f = &traffic.Flow{Request: ctx.Req}
	}
	if resp == nil {
		if ctx.Error != nil {
			p.log.Warn("upstream exchange failed",
				zap.String("flow", f.ID),
				zap.String("url", ctx.Req.URL.String()),
				zap.Error(ctx.Error))
		}
		return nil
	}
	f.Response = resp
	p.addon.OnResponse(f)
	return f.Response
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// stdLog routes goproxy's printf logging to debug level.
type stdLog struct{ l *logger.Logger }

func (s stdLog) Printf(format string, v ...interface{}) { s.l.Debugf(format, v...) }

var _ goproxy.Logger = stdLog{}
