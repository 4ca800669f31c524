package monitor

import (
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Default collects the in-process snapshot served by the operator API.
var Default = NewSystemMetrics()

// SystemMetrics tracks execution latency and counters for the operator API.
// Prometheus carries the same signals for scraping; this is the quick view.
type SystemMetrics struct {
	mu sync.RWMutex

	VenueLatency *LatencyHistogram
	StackLatency *LatencyHistogram

	ordersPut    atomic.Uint64
	fillsApplied atomic.Uint64
	venueErrors  atomic.Uint64

	sessions          int
	unhealthySessions int
	clientIDs         []int

	started time.Time
}

// LatencyHistogram tracks latency samples in a sliding window and computes
// stats lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		VenueLatency: NewLatencyHistogram(1000),
		StackLatency: NewLatencyHistogram(1000),
		started:      time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles of the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := slices.Clone(h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n-1)*0.95)],
		P99:   sorted[int(float64(n-1)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementOrdersPut()   { m.ordersPut.Add(1) }
func (m *SystemMetrics) IncrementFills()       { m.fillsApplied.Add(1) }
func (m *SystemMetrics) IncrementVenueErrors() { m.venueErrors.Add(1) }

// SetSessionStats records the venue session pool state.
func (m *SystemMetrics) SetSessionStats(sessions, unhealthy int, clientIDs []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = sessions
	m.unhealthySessions = unhealthy
	m.clientIDs = slices.Clone(clientIDs)
}

// MetricsSnapshot is a point-in-time view.
type MetricsSnapshot struct {
	VenueLatency      LatencyStats `json:"venue_latency"`
	StackLatency      LatencyStats `json:"stack_latency"`
	OrdersPut         uint64       `json:"orders_put"`
	FillsApplied      uint64       `json:"fills_applied"`
	VenueErrors       uint64       `json:"venue_errors"`
	Sessions          int          `json:"venue_sessions"`
	UnhealthySessions int          `json:"unhealthy_sessions"`
	ClientIDs         []int        `json:"client_ids"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	Uptime            string       `json:"uptime"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	sessions, unhealthy, ids := m.sessions, m.unhealthySessions, slices.Clone(m.clientIDs)
	m.mu.RUnlock()

	return MetricsSnapshot{
		VenueLatency:      m.VenueLatency.Stats(),
		StackLatency:      m.StackLatency.Stats(),
		OrdersPut:         m.ordersPut.Load(),
		FillsApplied:      m.fillsApplied.Load(),
		VenueErrors:       m.venueErrors.Load(),
		Sessions:          sessions,
		UnhealthySessions: unhealthy,
		ClientIDs:         ids,
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		Uptime:            time.Since(m.started).Round(time.Second).String(),
		Timestamp:         time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
