// Package traffic is the core of the traffic consistency proxy.
//
// An Addon receives one request callback and one response callback per
// intercepted exchange from a host proxy (see package interceptor).  For
// every exchange that is not ignored it logs the traffic, strips proxy and
// CDN headers from the request, aligns identity headers with the session
// profile, relabels JSON served as HTML, synthesizes CORS answers, raises
// alerts on blocking signals and escalates hosts that challenge the
// interception to a plain TLS tunnel.
//
// Callbacks for distinct flows may run concurrently.  The event ring, the
// Accept-CH map and the escalation record each sit behind their own lock.
package traffic

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/failure"
	"github.com/firasghr/GoPersonaEngine/fingerprint"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/metrics"
)

// storeTimeout bounds one shared-store round trip during escalation.
const storeTimeout = 3 * time.Second

var (
	blockStatuses    = map[int]bool{401: true, 403: true, 429: true, 503: true}
	criticalStatuses = map[int]bool{401: true, 403: true, 429: true, 500: true, 503: true}
	alertKeywords    = []string{
		"access denied", "forbidden", "banned", "suspicious", "captcha", "challenge",
		"block", "not allowed", "permission", "unusual activity",
	}
)

// Flow is one intercepted exchange.  Response is nil during the request
// callback; OnResponse may replace it.
type Flow struct {
	ID       string
	Request  *http.Request
	Response *http.Response
}

// Host returns the lowercased request host without port.
func (f *Flow) Host() string {
	h := f.Request.URL.Hostname()
	if h == "" {
		h = f.Request.Host
		if hh, _, err := net.SplitHostPort(h); err == nil {
			h = hh
		}
	}
	return strings.ToLower(h)
}

// Host is the intercepting proxy an Addon is attached to.
type Host interface {
	// Passthrough returns the live pass-through patterns.
	Passthrough() []string
	AddPassthrough(pattern string) error
	RemovePassthrough(pattern string) error
	// CloseServer terminates the upstream connection of f so the next
	// attempt is tunnelled.
	CloseServer(f *Flow) error
}

// Escalation records one host moved to pass-through.
type Escalation struct {
	Apex    string    `json:"apex"`
	Pattern string    `json:"pattern"`
	URL     string    `json:"url"`
	Status  int       `json:"status"`
	Time    time.Time `json:"time"`
}

// Addon implements the per-flow callbacks.
type Addon struct {
	host     Host
	log      *logger.Logger
	ring     *Ring
	raw      *RawLog
	store    Store
	metrics  *metrics.Metrics
	identity *fingerprint.Identity
	onEvent  func(Event)
	now      func() time.Time

	chMu     sync.RWMutex
	acceptCH map[string][]string

	escMu       sync.Mutex
	escalations []Escalation
}

// Option configures an Addon.
type Option func(*Addon)

// WithRing replaces the default 300-event ring.
func WithRing(r *Ring) Option { return func(a *Addon) { a.ring = r } }

// WithRawLog enables the human-readable traffic log.
func WithRawLog(l *RawLog) Option { return func(a *Addon) { a.raw = l } }

// WithStore mirrors escalations into s.
func WithStore(s Store) Option { return func(a *Addon) { a.store = s } }

// WithMetrics counts into m.
func WithMetrics(m *metrics.Metrics) Option { return func(a *Addon) { a.metrics = m } }

// WithIdentity aligns outbound identity headers with id.
func WithIdentity(id *fingerprint.Identity) Option { return func(a *Addon) { a.identity = id } }

// WithEventHook calls fn for every logged event.
func WithEventHook(fn func(Event)) Option { return func(a *Addon) { a.onEvent = fn } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(a *Addon) { a.now = now } }

// New returns an Addon attached to host.
func New(host Host, log *logger.Logger, opts ...Option) *Addon {
	if log == nil {
		log = logger.Nop()
	}
	a := &Addon{
		host:     host,
		log:      log.Named("traffic"),
		ring:     NewRing(DefaultRingSize),
		raw:      NewRawLog(nil),
		metrics:  metrics.NewMetrics(),
		now:      time.Now,
		acceptCH: make(map[string][]string),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ─── Callbacks ───────────────────────────────────────────────────────────────

// OnRequest processes an outbound request.
func (a *Addon) OnRequest(f *Flow) {
	defer a.recoverFlow("request", f)
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	a.metrics.Inc(&a.metrics.Requests)
	host := f.Host()
	if Ignored(host, nil) {
		a.metrics.Inc(&a.metrics.Ignored)
		return
	}

	a.record(PhaseRequest, f)
	if ChallengePath(f.Request.URL.Path) {
		a.log.Debug("challenge endpoint, request left as is", zap.String("url", f.Request.URL.String()))
		return
	}
	if a.Escalated(host) {
		return
	}

	if removed := StripProxyHeaders(f.Request.Header); len(removed) > 0 {
		a.metrics.Add(&a.metrics.Stripped, len(removed))
		a.log.Debug("stripped proxy headers", zap.String("flow", f.ID), zap.Strings("headers", removed))
	}
	a.align(f, host)
}

// OnResponse processes an inbound response.
func (a *Addon) OnResponse(f *Flow) {
	defer a.recoverFlow("response", f)
	if f.Response == nil {
		return
	}
	a.metrics.Inc(&a.metrics.Responses)
	host := f.Host()
	if Ignored(host, f.Response) {
		a.metrics.Inc(&a.metrics.Ignored)
		return
	}

	a.record(PhaseResponse, f)
	a.recordAcceptCH(host, f.Response)
	suppressed := a.Escalated(host)

	body, err := peekBody(f.Response)
	if err != nil {
		a.handlerError(failure.Handler("inspect body", err), f)
	}

	if !suppressed && escalationEvidence(f.Response, body) {
		a.escalate(f, host)
	}
	a.alert(f, body)

	if suppressed || challengeSignature(f.Request, f.Response) {
		return
	}
	if fixContentType(f.Request, f.Response, body) {
		a.metrics.Inc(&a.metrics.ContentTypeFixes)
		a.log.Info("corrected content-type to application/json", zap.String("url", f.Request.URL.String()))
	}
	a.applyCORS(f)
}

func (a *Addon) recoverFlow(op string, f *Flow) {
	if r := recover(); r != nil {
		a.handlerError(failure.Handler(op, fmt.Errorf("panic: %v", r)), f)
	}
}

func (a *Addon) handlerError(err error, f *Flow) {
	a.metrics.Inc(&a.metrics.HandlerErrors)
	fields := []zap.Field{zap.Error(err)}
	if f != nil && f.Request != nil {
		fields = append(fields, zap.String("flow", f.ID), zap.String("method", f.Request.Method),
			zap.String("url", f.Request.URL.String()))
	}
	a.log.Error("traffic handler failed", fields...)
}

// ─── Logging ─────────────────────────────────────────────────────────────────

func (a *Addon) record(phase string, f *Flow) {
	e := Event{
		ID:             uuid.NewString(),
		Phase:          phase,
		URL:            f.Request.URL.String(),
		Method:         f.Request.Method,
		RequestHeaders: f.Request.Header.Clone(),
		Time:           a.now(),
	}
	var resp *http.Response
	if phase == PhaseResponse {
		resp = f.Response
		e.ResponseCode = resp.StatusCode
		e.ResponseHeaders = resp.Header.Clone()
	}
	a.ring.Add(e)
	if err := a.raw.Write(phase, f.Request, resp); err != nil {
		a.handlerError(failure.Handler("raw log", err), f)
	}
	if a.onEvent != nil {
		a.onEvent(e)
	}
	a.log.Debug("exchange", zap.String("phase", phase), zap.String("method", e.Method),
		zap.String("url", e.URL), zap.Int("status", e.ResponseCode))
}

func (a *Addon) recordAcceptCH(host string, resp *http.Response) {
	v := resp.Header.Get("Accept-CH")
	if v == "" {
		return
	}
	var hints []string
	for _, h := range strings.Split(v, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hints = append(hints, h)
		}
	}
	a.chMu.Lock()
	a.acceptCH[host] = hints
	a.chMu.Unlock()
	a.log.Info("host requests client hints", zap.String("host", host), zap.Strings("hints", hints))
}

// AcceptCH returns a copy of the recorded Accept-CH lists per host.
func (a *Addon) AcceptCH() map[string][]string {
	a.chMu.RLock()
	defer a.chMu.RUnlock()
	out := make(map[string][]string, len(a.acceptCH))
	for k, v := range a.acceptCH {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Events returns a copy of the buffered events, oldest first.
func (a *Addon) Events() []Event { return a.ring.Snapshot() }

// Identity returns the profile headers are aligned with, or nil.
func (a *Addon) Identity() *fingerprint.Identity { return a.identity }

// Metrics returns the Addon's counters.
func (a *Addon) Metrics() *metrics.Metrics { return a.metrics }

// ─── Header alignment ────────────────────────────────────────────────────────

// align rewrites the identity headers of f.  High-entropy client hints are
// only sent to hosts that asked for them with Accept-CH.  The profile's
// Accept replaces the browser's only on navigations or when none was sent.
func (a *Addon) align(f *Flow, host string) {
	if a.identity == nil {
		return
	}
	keepAccept := f.Request.Header.Get("Accept") != "" &&
		!strings.EqualFold(f.Request.Header.Get("Sec-Fetch-Mode"), "navigate")
	asked := map[string]bool{}
	a.chMu.RLock()
	for _, h := range a.acceptCH[host] {
		asked[strings.ToLower(h)] = true
	}
	a.chMu.RUnlock()

	var hs []fingerprint.Header
	for _, h := range fingerprint.OutboundHeaders(a.identity) {
		if fingerprint.IsClientHint(h.Name) && !asked[strings.ToLower(h.Name)] {
			continue
		}
		if keepAccept && strings.EqualFold(h.Name, "Accept") {
			continue
		}
		hs = append(hs, h)
	}
	fingerprint.ApplyHeaders(f.Request.Header, hs, true)
	a.metrics.Inc(&a.metrics.Aligned)
}

// ─── Content-Type correction ─────────────────────────────────────────────────

// fixContentType relabels a 2xx HTML response whose body is JSON when the
// request asked for JSON.
func fixContentType(req *http.Request, resp *http.Response, body []byte) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return false
	}
	b := trimmedPrefix(body)
	if len(b) == 0 || (b[0] != '{' && b[0] != '[') {
		return false
	}
	if !strings.Contains(req.Header.Get("Accept"), "application/json") {
		return false
	}
	resp.Header.Set("Content-Type", "application/json")
	return true
}

// ─── Escalation ──────────────────────────────────────────────────────────────

func escalationEvidence(resp *http.Response, body []byte) bool {
	if !blockStatuses[resp.StatusCode] {
		return false
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare") {
		return true
	}
	if containsAny(setCookie(resp.Header), escalationCookies) {
		return true
	}
	if bytes.Contains(bytes.ToLower(body), []byte("/cdn-cgi/challenge")) {
		return true
	}
	return challengeMarkup(body)
}

// Escalated reports whether host's apex is already tunnelled.
func (a *Addon) Escalated(host string) bool {
	pattern := PassthroughPattern(Apex(host))
	for _, p := range a.host.Passthrough() {
		if p == pattern {
			return true
		}
	}
	return false
}

// escalate moves the apex of host to pass-through.  Each step is undone
// when a later one fails, so a failed escalation leaves no trace.
func (a *Addon) escalate(f *Flow, host string) {
	apex := Apex(host)
	pattern := PassthroughPattern(apex)

	a.escMu.Lock()
	defer a.escMu.Unlock()
	if a.Escalated(host) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if a.store != nil {
		if err := a.store.Add(ctx, pattern); err != nil {
			a.policyError(f, apex, err)
			return
		}
	}
	if err := a.host.AddPassthrough(pattern); err != nil {
		a.unstore(ctx, pattern)
		a.policyError(f, apex, err)
		return
	}
	if err := a.host.CloseServer(f); err != nil {
		_ = a.host.RemovePassthrough(pattern)
		a.unstore(ctx, pattern)
		a.policyError(f, apex, err)
		return
	}

	a.escalations = append(a.escalations, Escalation{
		Apex:    apex,
		Pattern: pattern,
		URL:     f.Request.URL.String(),
		Status:  f.Response.StatusCode,
		Time:    a.now(),
	})
	a.metrics.Inc(&a.metrics.Escalations)
	a.log.Warn("escalated to tls pass-through", zap.String("apex", "."+apex), zap.String("pattern", pattern),
		zap.Int("status", f.Response.StatusCode))
}

func (a *Addon) unstore(ctx context.Context, pattern string) {
	if a.store == nil {
		return
	}
	if err := a.store.Remove(ctx, pattern); err != nil {
		a.log.Warn("rollback of shared pass-through entry failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

func (a *Addon) policyError(f *Flow, apex string, err error) {
	a.log.Error("escalation failed, host stays intercepted",
		zap.String("apex", apex), zap.String("flow", f.ID), zap.Error(failure.Policy("escalate", err)))
}

// Escalations returns the hosts escalated by this process, oldest first.
func (a *Addon) Escalations() []Escalation {
	a.escMu.Lock()
	defer a.escMu.Unlock()
	return append([]Escalation(nil), a.escalations...)
}

// SyncStore adds every pattern of the shared store to the host.
func (a *Addon) SyncStore(ctx context.Context) (int, error) {
	if a.store == nil {
		return 0, nil
	}
	patterns, err := a.store.Members(ctx)
	if err != nil {
		return 0, failure.Policy("sync pass-through store", err)
	}
	n := 0
	for _, p := range patterns {
		if err := a.host.AddPassthrough(p); err != nil {
			a.log.Warn("skipping shared pass-through pattern", zap.String("pattern", p), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// DefaultSyncInterval is how often WatchStore re-reads the shared store.
const DefaultSyncInterval = 30 * time.Second

// WatchStore re-reads the shared store every interval until ctx is done, so
// hosts escalated by other processes are tunnelled here too.  It returns
// immediately when no store is configured.
func (a *Addon) WatchStore(ctx context.Context, interval time.Duration) {
	if a.store == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		before := len(a.host.Passthrough())
		if _, err := a.SyncStore(ctx); err != nil {
			a.log.Warn("shared pass-through sync failed", zap.Error(err))
			continue
		}
		if added := len(a.host.Passthrough()) - before; added > 0 {
			a.log.Info("adopted shared pass-through patterns", zap.Int("added", added))
		}
	}
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

// alert logs a warning with recent context when the response looks like a
// block.
func (a *Addon) alert(f *Flow, body []byte) bool {
	resp := f.Response
	scan := bytes.ToLower(body)
	if len(scan) > alertScanLimit {
		scan = scan[:alertScanLimit]
	}
	critical := criticalStatuses[resp.StatusCode] || containsAny(string(scan), alertKeywords)

	var matched []string
	for k, vs := range resp.Header {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "x-") || strings.Contains(lk, "block") {
			matched = append(matched, k+":"+strings.Join(vs, ", "))
		}
	}
	if !critical && len(matched) == 0 {
		return false
	}
	sort.Strings(matched)

	recent := a.ring.Last(10)
	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		if e.URL != "" {
			lines = append(lines, e.Summary())
		}
	}
	excerpt := scan
	if len(excerpt) > alertBodyLimit {
		excerpt = excerpt[:alertBodyLimit]
	}
	a.metrics.Inc(&a.metrics.Alerts)
	a.log.Warn("traffic alert",
		zap.String("url", f.Request.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Strings("headers", matched),
		zap.ByteString("body", excerpt),
		zap.Strings("recent", lines),
	)
	return true
}

// ─── CORS ────────────────────────────────────────────────────────────────────

func (a *Addon) applyCORS(f *Flow) {
	req := f.Request
	if req.Header.Get("Origin") == "" {
		a.log.Debug("no origin, cors skipped", zap.String("url", req.URL.String()))
		return
	}
	if IsPreflight(req) {
		old := f.Response
		f.Response = Preflight(req)
		drain(old)
		a.metrics.Inc(&a.metrics.Preflights)
		a.log.Debug("preflight answered", zap.String("url", req.URL.String()))
		return
	}
	ApplyCORS(req, f.Response)
	a.metrics.Inc(&a.metrics.CORS)
}
