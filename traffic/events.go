package traffic

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Phases of a logged exchange.
const (
	PhaseRequest  = "request"
	PhaseResponse = "response"
)

// DefaultRingSize is the number of events the buffer retains.
const DefaultRingSize = 300

// Event is one logged request or request/response pair.
type Event struct {
	ID              string      `json:"id"`
	Phase           string      `json:"phase"`
	URL             string      `json:"url"`
	Method          string      `json:"method"`
	RequestHeaders  http.Header `json:"request_headers"`
	ResponseCode    int         `json:"response_code,omitempty"`
	ResponseHeaders http.Header `json:"response_headers,omitempty"`
	Time            time.Time   `json:"time"`
}

// Summary renders e as "[phase] METHOD url code".
func (e Event) Summary() string {
	code := "-"
	if e.ResponseCode != 0 {
		code = fmt.Sprint(e.ResponseCode)
	}
	return fmt.Sprintf("[%s] %s %s %s", e.Phase, e.Method, e.URL, code)
}

// ─── Ring buffer ──────────────────────────────────────────────────────────────

// Ring is a bounded, oldest-evicting event buffer.  Readers get copies, so a
// snapshot never holds the lock beyond the copy.
type Ring struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	full  bool
	total uint64
}

// NewRing returns a Ring holding at most size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]Event, size)}
}

// Add appends e, evicting the oldest event when full.
func (r *Ring) Add(e Event) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	r.mu.Unlock()
}

// Snapshot returns the buffered events, oldest first.
func (r *Ring) Snapshot() []Event {
	return r.Last(len(r.buf))
}

// Last returns up to n of the most recent events, oldest first.
func (r *Ring) Last(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n > size {
		n = size
	}
	out := make([]Event, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Total returns the number of events ever added.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// ─── Raw text log ─────────────────────────────────────────────────────────────

// RawLog appends human-readable exchange records to a writer.
type RawLog struct {
	mu sync.Mutex
	w  io.Writer
}

// NewRawLog writes records to w.  A nil w discards them.
func NewRawLog(w io.Writer) *RawLog {
	if w == nil {
		w = io.Discard
	}
	return &RawLog{w: w}
}

// OpenRawLog returns a RawLog backed by a size-rotated file at path.
func OpenRawLog(path string, maxSizeMB, maxBackups int) (*RawLog, io.Closer) {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	return NewRawLog(lj), lj
}

// Write appends one record for the exchange.  resp may be nil.
func (l *RawLog) Write(phase string, req *http.Request, resp *http.Response) error {
	var b strings.Builder
	fmt.Fprintf(&b, "==== %s ====\n", strings.ToUpper(phase))
	fmt.Fprintf(&b, "%s %s\n", req.Method, req.URL.String())
	writeHeaders(&b, req.Header)
	if resp != nil {
		fmt.Fprintf(&b, "Status: %d\n", resp.StatusCode)
		writeHeaders(&b, resp.Header)
	}
	b.WriteString("\n" + strings.Repeat("=", 40) + "\n\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, b.String())
	return err
}

func writeHeaders(b *strings.Builder, h http.Header) {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		for _, v := range h[k] {
			fmt.Fprintf(b, "%s: %s\n", k, v)
		}
	}
}
