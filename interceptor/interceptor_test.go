package interceptor_test

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoPersonaEngine/client"
	"github.com/firasghr/GoPersonaEngine/interceptor"
	"github.com/firasghr/GoPersonaEngine/traffic"
)

func newProxy(t *testing.T, pass *traffic.PassList) (*interceptor.Proxy, *httptest.Server) {
	t.Helper()
	tr := client.NewTransport(client.Config{InsecureSkipVerify: true})
	p, err := interceptor.New(interceptor.Config{Pass: pass, Transport: tr, RequestTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return p, srv
}

func proxyClient(t *testing.T, proxyURL string) *http.Client {
	t.Helper()
	u, err := url.Parse(proxyURL)
	require.NoError(t, err)
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(u),
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, // #nosec G402 – test CA
			DisableKeepAlives: true,
		},
	}
}

func get(t *testing.T, c *http.Client, target string, hdr map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestPlainHTTP_FlowsThroughAddon(t *testing.T) {
	var seen atomic.Value
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Clone())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer backend.Close()

	p, srv := newProxy(t, nil)
	resp, body := get(t, proxyClient(t, srv.URL), backend.URL+"/api", map[string]string{
		"Accept":           "application/json",
		"CF-Connecting-IP": "203.0.113.7",
		"Authorization":    "Bearer x",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, body)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	hdr, ok := seen.Load().(http.Header)
	require.True(t, ok)
	assert.Empty(t, hdr.Get("CF-Connecting-IP"))
	assert.Equal(t, "Bearer x", hdr.Get("Authorization"))

	events := p.Addon().Events()
	require.Len(t, events, 2)
	assert.Equal(t, traffic.PhaseRequest, events[0].Phase)
	assert.Equal(t, traffic.PhaseResponse, events[1].Phase)
	assert.Equal(t, http.StatusOK, events[1].ResponseCode)
}

func TestConnect_MitmIntercepts(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	defer backend.Close()

	p, srv := newProxy(t, nil)
	resp, body := get(t, proxyClient(t, srv.URL), backend.URL, map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, "hello", body)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Len(t, p.Addon().Events(), 2)
}

func TestConnect_PassThroughTunnels(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "tunnelled")
	}))
	defer backend.Close()

	pass, err := traffic.NewPassList(`^127\.0\.0\.1$`)
	require.NoError(t, err)
	p, srv := newProxy(t, pass)

	resp, body := get(t, proxyClient(t, srv.URL), backend.URL, map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, "tunnelled", body)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"), "tunnel is not mutated")
	assert.Empty(t, p.Addon().Events())
}

func TestEscalation_NextConnectTunnels(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Server", "cloudflare")
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, "denied")
			return
		}
		_, _ = io.WriteString(w, "open")
	}))
	defer backend.Close()

	p, srv := newProxy(t, nil)
	c := proxyClient(t, srv.URL)

	resp, _ := get(t, c, backend.URL, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, p.Passthrough(), traffic.PassthroughPattern(traffic.Apex("127.0.0.1")))
	require.Len(t, p.Addon().Escalations(), 1)

	before := len(p.Addon().Events())
	_, body := get(t, c, backend.URL, nil)
	assert.Equal(t, "open", body)
	assert.Equal(t, before, len(p.Addon().Events()), "escalated host is tunnelled")
}

func TestCloseServer(t *testing.T) {
	p, _ := newProxy(t, nil)
	req := httptest.NewRequest(http.MethodGet, "https://shop.example/", nil)
	f := &traffic.Flow{Request: req, Response: &http.Response{StatusCode: 403}}

	require.NoError(t, p.CloseServer(f))
	assert.True(t, f.Response.Close)
	assert.Equal(t, "close", f.Response.Header.Get("Connection"))

	assert.Error(t, p.CloseServer(&traffic.Flow{}))
}

func TestPassthroughContract(t *testing.T) {
	p, _ := newProxy(t, nil)
	require.NoError(t, p.AddPassthrough(`^(?:.+\.)?example\.com$`))
	require.NoError(t, p.AddPassthrough(`^(?:.+\.)?example\.com$`))
	assert.Equal(t, []string{`^(?:.+\.)?example\.com$`}, p.Passthrough())

	assert.Error(t, p.AddPassthrough(`(`))

	require.NoError(t, p.RemovePassthrough(`^(?:.+\.)?example\.com$`))
	assert.Empty(t, p.Passthrough())
}

func TestLoadCA_Missing(t *testing.T) {
	_, err := interceptor.LoadCA("absent.pem", "absent.key")
	assert.Error(t, err)
}
