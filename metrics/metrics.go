// Package metrics provides lightweight, lock-free proxy counters using
// atomic operations so they impose minimal overhead on the flow callbacks.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the traffic consistency proxy.
//
// All counters are accessed exclusively through atomic operations, so the
// flow callbacks never contend on a mutex.  Fields are uint64 and aligned to
// 64-bit boundaries to satisfy sync/atomic on 32-bit platforms.
type Metrics struct {
	// Requests is the number of intercepted requests seen.
	Requests uint64

	// Responses is the number of intercepted responses seen.
	Responses uint64

	// Ignored counts exchanges passed through because of the ignore list.
	Ignored uint64

	// Stripped counts proxy/CDN/tracing headers removed from requests.
	Stripped uint64

	// Aligned counts requests whose identity headers were rewritten.
	Aligned uint64

	// ContentTypeFixes counts HTML responses relabelled as JSON.
	ContentTypeFixes uint64

	// CORS counts responses given CORS headers; Preflights counts
	// synthesized preflight answers.
	CORS       uint64
	Preflights uint64

	// Escalations counts hosts moved to TLS pass-through.
	Escalations uint64

	// Alerts counts responses that matched the alert predicate.
	Alerts uint64

	// HandlerErrors counts recovered or logged callback failures.
	HandlerErrors uint64

	// startTime records when the metrics instance was created so that
	// RequestsPerSecond can compute a meaningful rate.
	startTime time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests         uint64  `json:"requests"`
	Responses        uint64  `json:"responses"`
	Ignored          uint64  `json:"ignored"`
	Stripped         uint64  `json:"stripped"`
	Aligned          uint64  `json:"aligned"`
	ContentTypeFixes uint64  `json:"content_type_fixes"`
	CORS             uint64  `json:"cors"`
	Preflights       uint64  `json:"preflights"`
	Escalations      uint64  `json:"escalations"`
	Alerts           uint64  `json:"alerts"`
	HandlerErrors    uint64  `json:"handler_errors"`
	RPS              float64 `json:"rps"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Inc atomically adds one to the counter c, which must be a field of m.
func (m *Metrics) Inc(c *uint64) {
	atomic.AddUint64(c, 1)
}

// Add atomically adds n to the counter c.
func (m *Metrics) Add(c *uint64, n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(c, uint64(n))
}

// RequestsPerSecond returns the average request rate since the Metrics
// instance was created.  Returns 0 if no time has elapsed.
func (m *Metrics) RequestsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.Requests)) / elapsed
}

// Snapshot returns a copy of the counters.  The loads are independent, so the
// copy may be very slightly inconsistent, which is acceptable for monitoring.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Requests:         atomic.LoadUint64(&m.Requests),
		Responses:        atomic.LoadUint64(&m.Responses),
		Ignored:          atomic.LoadUint64(&m.Ignored),
		Stripped:         atomic.LoadUint64(&m.Stripped),
		Aligned:          atomic.LoadUint64(&m.Aligned),
		ContentTypeFixes: atomic.LoadUint64(&m.ContentTypeFixes),
		CORS:             atomic.LoadUint64(&m.CORS),
		Preflights:       atomic.LoadUint64(&m.Preflights),
		Escalations:      atomic.LoadUint64(&m.Escalations),
		Alerts:           atomic.LoadUint64(&m.Alerts),
		HandlerErrors:    atomic.LoadUint64(&m.HandlerErrors),
		RPS:              m.RequestsPerSecond(),
		UptimeSeconds:    time.Since(m.startTime).Seconds(),
	}
}
