// Package client provides the upstream transport of the traffic proxy.  Its
// TLS ClientHello parrots the browser of the session identity, so the TLS
// fingerprint a server observes agrees with the User-Agent and client hints
// the proxy forwards.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"

	"github.com/firasghr/GoPersonaEngine/fingerprint"
)

// ALPN protocol identifiers.
const (
	ProtoH2    = "h2"
	ProtoHTTP1 = "http/1.1"
)

// ContextDialer opens the raw TCP connection under the TLS layer.  The
// upstream pool and net.Dialer both satisfy it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// HelloFor returns the parrot ClientHello of brand b.  Unknown brands get
// the Chrome hello.
func HelloFor(b fingerprint.Brand) utls.ClientHelloID {
	switch b {
	case fingerprint.Edge:
		return utls.HelloEdge_Auto
	case fingerprint.Firefox:
		return utls.HelloFirefox_Auto
	case fingerprint.Safari:
		return utls.HelloSafari_Auto
	default:
		return utls.HelloChrome_Auto
	}
}

// TLSDialer performs uTLS handshakes impersonating one browser.
type TLSDialer struct {
	Hello utls.ClientHelloID
	Dial  ContextDialer

	// InsecureSkipVerify disables certificate checks; tests only.
	InsecureSkipVerify bool
}

// DialTLS connects to addr and completes the handshake.  alpn, when
// non-empty, replaces the ALPN list of the parrot hello; the negotiated
// protocol is returned alongside the connection.
func (d *TLSDialer) DialTLS(ctx context.Context, network, addr string, cfg *tls.Config, alpn ...string) (net.Conn, string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, "", fmt.Errorf("client: parse addr %q: %w", addr, err)
	}
	sni := host
	if cfg != nil && cfg.ServerName != "" {
		sni = cfg.ServerName
	}

	dial := d.Dial
	if dial == nil {
		dial = &net.Dialer{}
	}
	raw, err := dial.DialContext(ctx, network, addr)
	if err != nil {
		return nil, "", fmt.Errorf("client: dial %s: %w", addr, err)
	}

	spec, err := helloSpec(d.Hello, alpn)
	if err != nil {
		_ = raw.Close()
		return nil, "", err
	}
	uCfg := &utls.Config{
		ServerName:         sni,
		InsecureSkipVerify: d.InsecureSkipVerify || (cfg != nil && cfg.InsecureSkipVerify), // #nosec G402 – caller-controlled
	}
	uConn := utls.UClient(raw, uCfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		_ = raw.Close()
		return nil, "", fmt.Errorf("client: apply preset %s: %w", d.Hello.Str(), err)
	}
	if err := uConn.HandshakeContext(ctx); err != nil {
		_ = uConn.Close()
		return nil, "", fmt.Errorf("client: tls handshake with %s: %w", addr, err)
	}

	proto := uConn.ConnectionState().NegotiatedProtocol
	if proto == "" {
		proto = ProtoHTTP1
	}
	return uConn, proto, nil
}

// helloSpec returns the parrot spec of id with its ALPN list replaced by
// alpn when given.
func helloSpec(id utls.ClientHelloID, alpn []string) (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return utls.ClientHelloSpec{}, fmt.Errorf("client: hello spec %s: %w", id.Str(), err)
	}
	if len(alpn) == 0 {
		return spec, nil
	}
	for _, ext := range spec.Extensions {
		if a, ok := ext.(*utls.ALPNExtension); ok {
			a.AlpnProtocols = append([]string(nil), alpn...)
		}
	}
	return spec, nil
}
