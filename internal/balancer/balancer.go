// Package balancer selects upstreams for dispatch
package balancer

import (
	"hash/fnv"
	"math/rand"
	"sync"

	"go-apigateway/internal/upstream"

	"github.com/sirupsen/logrus"
)

// Strategy names a selection algorithm
type Strategy string

const (
	RoundRobin         Strategy = "round-robin"
	LeastConnections   Strategy = "least-connections"
	WeightedRoundRobin Strategy = "weighted-round-robin"
	IPHash             Strategy = "ip-hash"
	Random             Strategy = "random"
)

// Hints carries optional per-request selection inputs
type Hints struct {
	ClientIP string
}

// UpstreamMetrics accumulates per-upstream counters
type UpstreamMetrics struct {
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	TotalLatency float64 `json:"totalLatencyMs"`
	Share        float64 `json:"sharePercent"`
}

// Metrics is the balancer snapshot
type Metrics struct {
	TotalRequests int64                      `json:"totalRequests"`
	Strategy      Strategy                   `json:"strategy"`
	Upstreams     map[string]UpstreamMetrics `json:"upstreams"`
}

// Balancer picks one upstream per request. Unhealthy upstreams are skipped
// while health-aware mode is on (the default); Select returns nil when the
// healthy set is empty.
type Balancer struct {
	mu          sync.Mutex
	upstreams   []*upstream.Upstream
	strategy    Strategy
	healthAware bool

	cursor   int
	schedule []int // weighted-round-robin expansion, indexes into upstreams
	rng      *rand.Rand

	totalRequests int64
	perUpstream   map[string]*UpstreamMetrics
	logger        *logrus.Logger
}

// New creates a balancer with the given strategy
func New(strategy Strategy, logger *logrus.Logger) *Balancer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Balancer{
		strategy:    strategy,
		healthAware: true,
		rng:         rand.New(rand.NewSource(rand.Int63())),
		perUpstream: make(map[string]*UpstreamMetrics),
		logger:      logger,
	}
	if b.strategy == "" {
		b.strategy = RoundRobin
	}
	return b
}

// SetHealthAware toggles unhealthy-upstream skipping
func (b *Balancer) SetHealthAware(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthAware = on
}

// SetUpstreams replaces the upstream set and resets cursors
func (b *Balancer) SetUpstreams(list []*upstream.Upstream) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.upstreams = make([]*upstream.Upstream, len(list))
	copy(b.upstreams, list)
	for _, u := range list {
		if _, ok := b.perUpstream[u.ID]; !ok {
			b.perUpstream[u.ID] = &UpstreamMetrics{}
		}
	}
	b.cursor = 0
	b.rebuildSchedule()
}

// SetStrategy switches algorithms and resets internal cursors
func (b *Balancer) SetStrategy(strategy Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategy = strategy
	b.cursor = 0
}

// rebuildSchedule expands weights into a selection schedule: each upstream
// repeated weight times in declaration order.
func (b *Balancer) rebuildSchedule() {
	b.schedule = b.schedule[:0]
	for i, u := range b.upstreams {
		weight := u.Weight
		if weight < 1 {
			weight = 1
		}
		for w := 0; w < weight; w++ {
			b.schedule = append(b.schedule, i)
		}
	}
}

// Select picks an upstream, or nil when none is eligible
func (b *Balancer) Select(hints Hints) *upstream.Upstream {
	b.mu.Lock()
	defer b.mu.Unlock()

	eligible := b.eligible()
	if len(eligible) == 0 {
		return nil
	}

	var chosen *upstream.Upstream
	switch b.strategy {
	case LeastConnections:
		chosen = b.selectLeastConnections(eligible)
	case WeightedRoundRobin:
		chosen = b.selectWeighted()
	case IPHash:
		chosen = b.selectIPHash(eligible, hints)
	case Random:
		chosen = eligible[b.rng.Intn(len(eligible))]
	default:
		chosen = b.selectRoundRobin(eligible)
	}
	if chosen == nil {
		return nil
	}

	b.totalRequests++
	b.perUpstream[chosen.ID].Requests++
	return chosen
}

func (b *Balancer) eligible() []*upstream.Upstream {
	if !b.healthAware {
		return b.upstreams
	}
	eligible := make([]*upstream.Upstream, 0, len(b.upstreams))
	for _, u := range b.upstreams {
		if u.Healthy() {
			eligible = append(eligible, u)
		}
	}
	return eligible
}

func (b *Balancer) selectRoundRobin(eligible []*upstream.Upstream) *upstream.Upstream {
	chosen := eligible[b.cursor%len(eligible)]
	b.cursor++
	return chosen
}

func (b *Balancer) selectLeastConnections(eligible []*upstream.Upstream) *upstream.Upstream {
	chosen := eligible[0]
	for _, u := range eligible[1:] {
		if u.ActiveConnections() < chosen.ActiveConnections() {
			chosen = u
		}
	}
	return chosen
}

func (b *Balancer) selectWeighted() *upstream.Upstream {
	if len(b.schedule) == 0 {
		return nil
	}
	// Walk the schedule, skipping slots whose upstream is unhealthy.
	for tried := 0; tried < len(b.schedule); tried++ {
		idx := b.schedule[b.cursor%len(b.schedule)]
		b.cursor++
		u := b.upstreams[idx]
		if !b.healthAware || u.Healthy() {
			return u
		}
	}
	return nil
}

func (b *Balancer) selectIPHash(eligible []*upstream.Upstream, hints Hints) *upstream.Upstream {
	if hints.ClientIP == "" {
		return b.selectRoundRobin(eligible)
	}
	h := fnv.New32a()
	h.Write([]byte(hints.ClientIP))
	return eligible[int(h.Sum32())%len(eligible)]
}

// RecordError counts a dispatch failure against an upstream
func (b *Balancer) RecordError(u *upstream.Upstream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.perUpstream[u.ID]; ok {
		m.Errors++
	}
}

// RecordLatency accumulates observed latency for an upstream
func (b *Balancer) RecordLatency(u *upstream.Upstream, ms float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.perUpstream[u.ID]; ok {
		m.TotalLatency += ms
	}
}

// UpdateHealth mirrors a health checker verdict into the upstream flag
func (b *Balancer) UpdateHealth(u *upstream.Upstream, healthy bool) {
	u.SetHealthy(healthy)
	b.logger.WithFields(logrus.Fields{
		"upstream": u.ID,
		"healthy":  healthy,
	}).Info("Upstream health updated")
}

// GetMetrics returns a snapshot with per-upstream request shares
func (b *Balancer) GetMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := Metrics{
		TotalRequests: b.totalRequests,
		Strategy:      b.strategy,
		Upstreams:     make(map[string]UpstreamMetrics, len(b.perUpstream)),
	}
	for id, m := range b.perUpstream {
		entry := *m
		if b.totalRequests > 0 {
			entry.Share = float64(entry.Requests) / float64(b.totalRequests) * 100
		}
		snapshot.Upstreams[id] = entry
	}
	return snapshot
}
