// Package metrics aggregates request counters, latency and size
// distributions across workers.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counters is the shared atomic counter block. Workers only ever issue
// atomic adds against it.
type Counters struct {
	Requests    atomic.Int64
	Errors      atomic.Int64
	ActiveConns atomic.Int64
	BytesIn     atomic.Int64
	BytesOut    atomic.Int64
}

// Snapshot is the JSON view served by the metrics endpoint
type Snapshot struct {
	Requests    int64 `json:"requests"`
	Errors      int64 `json:"errors"`
	ActiveConns int64 `json:"activeConnections"`
	BytesIn     int64 `json:"bytesIn"`
	BytesOut    int64 `json:"bytesOut"`

	Latency      DistributionSnapshot `json:"latencyMs"`
	RequestSize  DistributionSnapshot `json:"requestSizeBytes"`
	ResponseSize DistributionSnapshot `json:"responseSizeBytes"`

	RecentLatency DistributionSnapshot `json:"recentLatencyMs"`

	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// DistributionSnapshot summarizes one histogram
type DistributionSnapshot struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

type sample struct {
	value float64
	at    time.Time
}

// recentWindow keeps a bounded sliding window of samples for
// higher-accuracy recent percentiles than the log buckets give.
type recentWindow struct {
	mu      sync.Mutex
	samples []sample
	maxLen  int
	maxAge  time.Duration
	head    int
	size    int
}

func newRecentWindow(maxLen int, maxAge time.Duration) *recentWindow {
	return &recentWindow{
		samples: make([]sample, maxLen),
		maxLen:  maxLen,
		maxAge:  maxAge,
	}
}

func (w *recentWindow) add(value float64) {
	w.mu.Lock()
	idx := (w.head + w.size) % w.maxLen
	if w.size == w.maxLen {
		w.head = (w.head + 1) % w.maxLen
		idx = (w.head + w.size - 1) % w.maxLen
	} else {
		w.size++
	}
	w.samples[idx] = sample{value: value, at: time.Now()}
	w.mu.Unlock()
}

// snapshotValues copies live samples, dropping those past maxAge
func (w *recentWindow) snapshotValues() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-w.maxAge)
	values := make([]float64, 0, w.size)
	for i := 0; i < w.size; i++ {
		s := w.samples[(w.head+i)%w.maxLen]
		if s.at.Before(cutoff) {
			continue
		}
		values = append(values, s.value)
	}
	return values
}

func (w *recentWindow) reset() {
	w.mu.Lock()
	w.head = 0
	w.size = 0
	w.mu.Unlock()
}

// Aggregator is the worker-shared metrics sink
type Aggregator struct {
	counters Counters

	latency      *Histogram
	requestSize  *Histogram
	responseSize *Histogram

	recent *recentWindow

	startedAt time.Time
}

// NewAggregator creates an aggregator. Latency buckets span 0.01ms–60s;
// size buckets span 1B–1GB.
func NewAggregator() *Aggregator {
	return &Aggregator{
		latency:      NewHistogram(0.01, 60_000),
		requestSize:  NewHistogram(1, 1<<30),
		responseSize: NewHistogram(1, 1<<30),
		recent:       newRecentWindow(10_000, 60*time.Second),
		startedAt:    time.Now(),
	}
}

// RecordRequest records one finished request
func (a *Aggregator) RecordRequest(latencyMs float64, requestBytes, responseBytes int64, isError bool) {
	a.counters.Requests.Add(1)
	if isError {
		a.counters.Errors.Add(1)
	}
	a.counters.BytesIn.Add(requestBytes)
	a.counters.BytesOut.Add(responseBytes)

	a.latency.Observe(latencyMs)
	a.recent.add(latencyMs)
	if requestBytes > 0 {
		a.requestSize.Observe(float64(requestBytes))
	}
	if responseBytes > 0 {
		a.responseSize.Observe(float64(responseBytes))
	}
}

// ConnOpened / ConnClosed track the live connection gauge

func (a *Aggregator) ConnOpened() { a.counters.ActiveConns.Add(1) }
func (a *Aggregator) ConnClosed() { a.counters.ActiveConns.Add(-1) }

// Uptime reports time since construction
func (a *Aggregator) Uptime() time.Duration {
	return time.Since(a.startedAt)
}

// GetSnapshot derives percentiles and returns the JSON view
func (a *Aggregator) GetSnapshot() Snapshot {
	snap := Snapshot{
		Requests:      a.counters.Requests.Load(),
		Errors:        a.counters.Errors.Load(),
		ActiveConns:   a.counters.ActiveConns.Load(),
		BytesIn:       a.counters.BytesIn.Load(),
		BytesOut:      a.counters.BytesOut.Load(),
		Latency:       distSnapshot(a.latency),
		RequestSize:   distSnapshot(a.requestSize),
		ResponseSize:  distSnapshot(a.responseSize),
		UptimeSeconds: time.Since(a.startedAt).Seconds(),
	}
	snap.RecentLatency = exactSnapshot(a.recent.snapshotValues())
	return snap
}

// Reset zeroes all counters and clears windows
func (a *Aggregator) Reset() {
	a.counters.Requests.Store(0)
	a.counters.Errors.Store(0)
	a.counters.ActiveConns.Store(0)
	a.counters.BytesIn.Store(0)
	a.counters.BytesOut.Store(0)
	a.latency.Reset()
	a.requestSize.Reset()
	a.responseSize.Reset()
	a.recent.reset()
}

func distSnapshot(h *Histogram) DistributionSnapshot {
	return DistributionSnapshot{
		Count: h.Count(),
		Mean:  h.Mean(),
		P50:   h.Percentile(50),
		P95:   h.Percentile(95),
		P99:   h.Percentile(99),
	}
}

func exactSnapshot(values []float64) DistributionSnapshot {
	snap := DistributionSnapshot{Count: int64(len(values))}
	if len(values) == 0 {
		return snap
	}
	sortFloats(values)
	var sum float64
	for _, v := range values {
		sum += v
	}
	snap.Mean = sum / float64(len(values))
	snap.P50 = values[rankIndex(len(values), 50)]
	snap.P95 = values[rankIndex(len(values), 95)]
	snap.P99 = values[rankIndex(len(values), 99)]
	return snap
}

func rankIndex(n, pct int) int {
	idx := n*pct/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func sortFloats(values []float64) {
	for gap := len(values) / 2; gap > 0; gap /= 2 {
		for i := gap; i < len(values); i++ {
			v := values[i]
			j := i
			for j >= gap && values[j-gap] > v {
				values[j] = values[j-gap]
				j -= gap
			}
			values[j] = v
		}
	}
}
