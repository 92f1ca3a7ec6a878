// Package upstream provides the optional SOCKS5 exit pool the traffic proxy
// dials through.
package upstream

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/net/proxy"
)

// Pool holds a list of SOCKS5 upstreams and rotates through them in a
// round-robin fashion.  An empty Pool dials directly.
//
// Thread-safety: a sync.Mutex serialises all mutations of index, so
// DialContext may be called from any number of goroutines simultaneously.
type Pool struct {
	mu      sync.Mutex
	entries []entry
	index   int
	direct  proxy.ContextDialer
}

type entry struct {
	raw    string
	dialer proxy.ContextDialer
}

// New returns an empty Pool dialing through base, or net.Dialer when nil.
func New(base proxy.ContextDialer) *Pool {
	if base == nil {
		base = &net.Dialer{}
	}
	return &Pool{direct: base}
}

// Load reads a newline-delimited list of socks5:// or socks5h:// URLs from
// filename.  Lines that are blank or begin with '#' are ignored.  Load
// replaces any previously loaded upstreams.
func (p *Pool) Load(filename string) error {
	f, err := os.Open(filename) // #nosec G304 – filename is an operator-supplied config path
	if err != nil {
		return fmt.Errorf("upstream: open %q: %w", filename, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("upstream: read %q: %w", filename, err)
	}
	return p.Set(lines...)
}

// Set replaces the upstream list.  Nothing is replaced when any URL is
// invalid.
func (p *Pool) Set(urls ...string) error {
	loaded := make([]entry, 0, len(urls))
	for _, raw := range urls {
		d, err := p.socks(raw)
		if err != nil {
			return err
		}
		loaded = append(loaded, entry{raw: raw, dialer: d})
	}
	p.mu.Lock()
	p.entries = loaded
	p.index = 0
	p.mu.Unlock()
	return nil
}

func (p *Pool) socks(raw string) (proxy.ContextDialer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("upstream: parse %q: %w", raw, err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("upstream: unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("upstream: missing port in %q", raw)
	}
	var auth *proxy.Auth
	if u.User != nil {
		auth = &proxy.Auth{User: u.User.Username()}
		if pw, ok := u.User.Password(); ok {
			auth.Password = pw
		}
	}
	d, err := proxy.SOCKS5("tcp", u.Host, auth, forward{p.direct})
	if err != nil {
		return nil, fmt.Errorf("upstream: socks5 %q: %w", u.Host, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("upstream: socks5 dialer for %q lacks DialContext", u.Host)
	}
	return cd, nil
}

// Next returns the next upstream URL in the rotation and its dialer.  If no
// upstreams are loaded it returns "" and the direct dialer.
func (p *Pool) Next() (string, proxy.ContextDialer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return "", p.direct
	}
	e := p.entries[p.index]
	p.index = (p.index + 1) % len(p.entries)
	return e.raw, e.dialer
}

// DialContext dials addr through the next upstream.
func (p *Pool) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	via, d := p.Next()
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		if via == "" {
			return nil, fmt.Errorf("upstream: dial %s: %w", addr, err)
		}
		return nil, fmt.Errorf("upstream: dial %s via %s: %w", addr, redact(via), err)
	}
	return conn, nil
}

// Count returns the number of loaded upstreams.
func (p *Pool) Count() int {
	p.mu.Lock()
	n := len(p.entries)
	p.mu.Unlock()
	return n
}

// forward adapts a ContextDialer to proxy.Dialer; SOCKS5 prefers the
// context form when present.
type forward struct{ proxy.ContextDialer }

func (f forward) Dial(network, addr string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, addr)
}

// redact hides credentials in error messages.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
