// Package dashboard provides the read-only diagnostics HTTP API of the
// traffic proxy.
//
// It exposes:
//   - GET /api/events          – the recent traffic ring, oldest first (JSON)
//   - GET /api/escalations     – hosts moved to TLS pass-through (JSON)
//   - GET /api/client-hints    – expected hints and per-host Accept-CH (JSON)
//   - GET /api/metrics         – proxy counters (JSON)
//   - GET /api/metrics/stream  – SSE stream of proxy counters (1 s ticks)
//   - GET /api/identity        – the session identity in use (JSON)
//   - GET /api/logs/stream     – SSE stream of log entries and traffic events
//
// All SSE endpoints set appropriate headers so browsers can use EventSource
// without any additional libraries.  CORS is wide-open; bind the dashboard to
// a loopback address.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/firasghr/GoPersonaEngine/fingerprint"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/metrics"
	"github.com/firasghr/GoPersonaEngine/traffic"
)

// ─── Data Types ───────────────────────────────────────────────────────────────

// Source is the live proxy state the dashboard reads.  *traffic.Addon
// satisfies it.
type Source interface {
	Events() []traffic.Event
	Escalations() []traffic.Escalation
	AcceptCH() map[string][]string
	Identity() *fingerprint.Identity
	Metrics() *metrics.Metrics
}

// LogEntry is a structured log line streamed to the dashboard.
type LogEntry struct {
	Timestamp int64          `json:"ts"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Event     *traffic.Event `json:"event,omitempty"`
}

// ClientHints is the payload of /api/client-hints.
type ClientHints struct {
	Expected  *fingerprint.ClientHints `json:"expected"`
	Requested map[string][]string      `json:"requested"`
}

// ─── Server ───────────────────────────────────────────────────────────────────

// Feed buffers log entries and traffic events for /api/logs/stream.  It is
// created before the components whose output it carries.
type Feed struct {
	// Log ring buffer (capped at maxLogs).
	logMu    sync.Mutex
	logs     []LogEntry
	logSubs  map[chan LogEntry]struct{}
	logSubMu sync.Mutex
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{
		logs:    make([]LogEntry, 0, 512),
		logSubs: make(map[chan LogEntry]struct{}),
	}
}

// Server serves the diagnostics API.
type Server struct {
	src  Source
	feed *Feed
	log  *logger.Logger

	// Metrics SSE subscribers.
	metricsSubs  map[chan metrics.Snapshot]struct{}
	metricsSubMu sync.Mutex

	router chi.Router
}

const (
	maxLogs      = 10_000
	metricsTick  = time.Second
	eventMessage = "traffic"
)

// New creates a dashboard Server over src streaming feed; a nil feed gets a
// fresh one.  Call ListenAndServe to start accepting connections.
func New(src Source, feed *Feed, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if feed == nil {
		feed = NewFeed()
	}
	s := &Server{
		src:         src,
		feed:        feed,
		log:         log.Named("dashboard"),
		metricsSubs: make(map[chan metrics.Snapshot]struct{}),
	}
	s.registerRoutes()
	return s
}

// Handler returns the dashboard router.
func (s *Server) Handler() http.Handler { return s.router }

// Feed returns the stream the server publishes.
func (s *Server) Feed() *Feed { return s.feed }

// AddLog appends a structured log entry to the ring buffer and fans it out to
// every active SSE /api/logs/stream subscriber.
func (f *Feed) AddLog(level, message string) {
	f.publish(LogEntry{
		Timestamp: time.Now().UnixMilli(),
		Level:     level,
		Message:   message,
	})
}

// AddEvent streams a traffic event.  It has the signature of the addon's
// event hook.
func (f *Feed) AddEvent(e traffic.Event) {
	f.publish(LogEntry{
		Timestamp: e.Time.UnixMilli(),
		Level:     "debug",
		Message:   eventMessage + " " + e.Summary(),
		Event:     &e,
	})
}

// Hook mirrors zap log entries into the stream; install it with zap.Hooks.
func (f *Feed) Hook(e zapcore.Entry) error {
	f.publish(LogEntry{
		Timestamp: e.Time.UnixMilli(),
		Level:     e.Level.String(),
		Message:   e.Message,
	})
	return nil
}

func (f *Feed) publish(entry LogEntry) {
	f.logMu.Lock()
	f.logs = append(f.logs, entry)
	if len(f.logs) > maxLogs {
		f.logs = f.logs[len(f.logs)-maxLogs:]
	}
	f.logMu.Unlock()

	f.logSubMu.Lock()
	for ch := range f.logSubs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber – drop rather than block.
		}
	}
	f.logSubMu.Unlock()
}

// ListenAndServe serves on addr until ctx is cancelled.  It also runs the
// ticker that pushes counters to SSE subscribers.
//
// WriteTimeout is disabled: SSE streams are long-lived connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	go s.metricsTicker(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("dashboard listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard: listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	return nil
}

// ─── Route registration ───────────────────────────────────────────────────────

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withCORS)
	r.Route("/api", func(api chi.Router) {
		api.Get("/events", s.handleEvents)
		api.Get("/escalations", s.handleEscalations)
		api.Get("/client-hints", s.handleClientHints)
		api.Get("/metrics", s.handleMetrics)
		api.Get("/metrics/stream", s.handleMetricsStream)
		api.Get("/identity", s.handleIdentity)
		api.Get("/logs/stream", s.handleLogsStream)
	})
	s.router = r
}

// ─── CORS middleware ──────────────────────────────────────────────────────────

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── JSON endpoints ──────────────────────────────────────────────────────────

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.src.Events()
	if events == nil {
		events = []traffic.Event{}
	}
	s.writeJSON(w, events)
}

func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	esc := s.src.Escalations()
	if esc == nil {
		esc = []traffic.Escalation{}
	}
	s.writeJSON(w, esc)
}

func (s *Server) handleClientHints(w http.ResponseWriter, r *http.Request) {
	out := ClientHints{Requested: s.src.AcceptCH()}
	if id := s.src.Identity(); id != nil {
		out.Expected = id.ClientHints()
	}
	if out.Requested == nil {
		out.Requested = map[string][]string{}
	}
	s.writeJSON(w, out)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.src.Metrics().Snapshot())
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id := s.src.Identity()
	if id == nil {
		http.Error(w, "no identity loaded", http.StatusNotFound)
		return
	}
	s.writeJSON(w, id)
}

// ─── /api/metrics/stream ─────────────────────────────────────────────────────

func (s *Server) metricsTicker(ctx context.Context) {
	ticker := time.NewTicker(metricsTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap := s.src.Metrics().Snapshot()
		s.metricsSubMu.Lock()
		for ch := range s.metricsSubs {
			select {
			case ch <- snap:
			default:
			}
		}
		s.metricsSubMu.Unlock()
	}
}

func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sseHeaders(w)

	ch := make(chan metrics.Snapshot, 16)
	s.metricsSubMu.Lock()
	s.metricsSubs[ch] = struct{}{}
	s.metricsSubMu.Unlock()

	defer func() {
		s.metricsSubMu.Lock()
		delete(s.metricsSubs, ch)
		s.metricsSubMu.Unlock()
	}()

	// Current counters first so a client does not wait a full tick.
	if err := sseWrite(w, s.src.Metrics().Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if err := sseWrite(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ─── /api/logs/stream ────────────────────────────────────────────────────────

func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sseHeaders(w)

	// Subscribe before copying history so no entry falls between the two.
	ch := make(chan LogEntry, 256)
	s.feed.logSubMu.Lock()
	s.feed.logSubs[ch] = struct{}{}
	s.feed.logSubMu.Unlock()

	defer func() {
		s.feed.logSubMu.Lock()
		delete(s.feed.logSubs, ch)
		s.feed.logSubMu.Unlock()
	}()

	s.feed.logMu.Lock()
	history := make([]LogEntry, len(s.feed.logs))
	copy(history, s.feed.logs)
	s.feed.logMu.Unlock()

	for _, entry := range history {
		if err := sseWrite(w, entry); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			if err := sseWrite(w, entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func sseWrite(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
