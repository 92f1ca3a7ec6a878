package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/firasghr/GoPersonaEngine/fingerprint"
)

// HTTP/2 SETTINGS a desktop Chromium sends.
const (
	chromiumH2HeaderTableSize   uint32 = 65536
	chromiumH2MaxHeaderListSize uint32 = 262144
)

// Config tunes a Transport.
type Config struct {
	Brand fingerprint.Brand

	// Dial opens upstream TCP connections; nil dials directly.
	Dial ContextDialer

	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration

	// InsecureSkipVerify disables certificate checks; tests only.
	InsecureSkipVerify bool
}

// Transport is an http.RoundTripper that speaks HTTP/2 when the origin
// negotiates it and HTTP/1.1 otherwise, both over a browser-parrot TLS
// handshake.  Bodies are forwarded as received: the transport never asks
// for compression on its own.
type Transport struct {
	tls *TLSDialer
	h1  *http.Transport
	h2  *http2.Transport

	mu      sync.Mutex
	proto   map[string]string   // addr -> negotiated ALPN
	pending map[string]net.Conn // handshaken conns awaiting their transport
}

// NewTransport returns a Transport impersonating cfg.Brand.
func NewTransport(cfg Config) *Transport {
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.TLSHandshakeTimeout == 0 {
		cfg.TLSHandshakeTimeout = 10 * time.Second
	}
	t := &Transport{
		tls:     &TLSDialer{Hello: HelloFor(cfg.Brand), Dial: cfg.Dial, InsecureSkipVerify: cfg.InsecureSkipVerify},
		proto:   make(map[string]string),
		pending: make(map[string]net.Conn),
	}

	dial := cfg.Dial
	if dial == nil {
		dial = &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	}
	t.h1 = &http.Transport{
		DialContext:           dial.DialContext,
		DialTLSContext:        t.dialH1,
		MaxIdleConns:          500,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
	}
	t.h2 = &http2.Transport{
		DialTLSContext:            t.dialH2,
		MaxDecoderHeaderTableSize: chromiumH2HeaderTableSize,
		MaxEncoderHeaderTableSize: chromiumH2HeaderTableSize,
		MaxHeaderListSize:         chromiumH2MaxHeaderListSize,
		DisableCompression:        true,
		IdleConnTimeout:           cfg.IdleConnTimeout,
	}
	return t
}

// RoundTrip satisfies http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	addr := Addr(req.URL)
	proto, known := t.protoFor(addr)
	if !known {
		ctx, cancel := context.WithTimeout(req.Context(), t.h1.TLSHandshakeTimeout)
		conn, p, err := t.tls.DialTLS(ctx, "tcp", addr, nil)
		cancel()
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.proto[addr] = p
		if old, ok := t.pending[addr]; ok {
			_ = old.Close()
		}
		t.pending[addr] = conn
		t.mu.Unlock()
		proto = p
	}
	if proto == ProtoH2 {
		return t.h2.RoundTrip(req)
	}
	return t.h1.RoundTrip(req)
}

// Protocol returns the ALPN protocol last negotiated with addr (host:port).
func (t *Transport) Protocol(addr string) string {
	p, _ := t.protoFor(addr)
	return p
}

// CloseIdleConnections closes idle upstream connections and forgets the
// negotiated protocols.
func (t *Transport) CloseIdleConnections() {
	t.mu.Lock()
	for addr, c := range t.pending {
		_ = c.Close()
		delete(t.pending, addr)
	}
	t.proto = make(map[string]string)
	t.mu.Unlock()
	t.h1.CloseIdleConnections()
	t.h2.CloseIdleConnections()
}

// Forget closes idle connections and drops the protocol cached for addr.
func (t *Transport) Forget(addr string) {
	t.mu.Lock()
	delete(t.proto, addr)
	if c, ok := t.pending[addr]; ok {
		_ = c.Close()
		delete(t.pending, addr)
	}
	t.mu.Unlock()
	t.h1.CloseIdleConnections()
	t.h2.CloseIdleConnections()
}

func (t *Transport) protoFor(addr string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.proto[addr]
	return p, ok
}

func (t *Transport) takePending(addr string) net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.pending[addr]
	if ok {
		delete(t.pending, addr)
	}
	return c
}

func (t *Transport) dialH1(ctx context.Context, network, addr string) (net.Conn, error) {
	if c := t.takePending(addr); c != nil {
		return c, nil
	}
	c, _, err := t.tls.DialTLS(ctx, network, addr, nil, ProtoHTTP1)
	return c, err
}

func (t *Transport) dialH2(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
	if c := t.takePending(addr); c != nil {
		return c, nil
	}
	c, _, err := t.tls.DialTLS(ctx, network, addr, cfg)
	return c, err
}

// Addr returns the host:port a Transport keys its connections on.
func Addr(u *url.URL) string {
	host, port := u.Hostname(), u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(host, port)
}
