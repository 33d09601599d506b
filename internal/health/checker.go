// Package health probes upstreams and drives their healthy flag
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go-apigateway/internal/upstream"

	"github.com/sirupsen/logrus"
)

// Mode selects how an upstream is probed
type Mode string

const (
	ModeActive  Mode = "active"
	ModePassive Mode = "passive"
	ModeHybrid  Mode = "hybrid"
)

// Config tunes the checker
type Config struct {
	UnhealthyThreshold int           // consecutive failures before unhealthy
	HealthyThreshold   int           // consecutive successes before healthy
	GracePeriod        time.Duration // freshly added upstreams stay healthy
}

// Stats is the per-upstream probe record
type Stats struct {
	TotalChecks          int64         `json:"totalChecks"`
	TotalFailures        int64         `json:"totalFailures"`
	ConsecutiveSuccesses int           `json:"consecutiveSuccesses"`
	ConsecutiveFailures  int           `json:"consecutiveFailures"`
	AvgResponseTime      time.Duration `json:"avgResponseTime"`
	LastResult           bool          `json:"lastResult"`
	LastCheck            time.Time     `json:"lastCheck"`
}

type target struct {
	upstream *upstream.Upstream
	addedAt  time.Time

	mu            sync.Mutex
	stats         Stats
	totalDuration time.Duration

	// passive observations from live traffic
	passiveSuccess int64
	passiveFailure int64
	hasActiveData  bool
}

// StatusListener is notified on health flips. The checker emits; readers
// mirror what they need and never mutate checker state.
type StatusListener func(u *upstream.Upstream, healthy bool)

// Checker periodically probes registered upstreams and flips their healthy
// flag through a two-threshold machine.
type Checker struct {
	mu        sync.RWMutex
	targets   map[string]*target
	config    Config
	logger    *logrus.Logger
	listeners []StatusListener

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// New creates a checker
func New(config Config, logger *logrus.Logger) *Checker {
	if config.UnhealthyThreshold <= 0 {
		config.UnhealthyThreshold = 3
	}
	if config.HealthyThreshold <= 0 {
		config.HealthyThreshold = 2
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Checker{
		targets:  make(map[string]*target),
		config:   config,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Register adds an upstream to the probe set
func (c *Checker) Register(u *upstream.Upstream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[u.ID] = &target{upstream: u, addedAt: time.Now()}
}

// Subscribe adds a health flip listener
func (c *Checker) Subscribe(listener StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Start launches one probe loop per registered upstream
func (c *Checker) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	for _, t := range c.targets {
		if !t.upstream.HealthCheck.Enabled {
			continue
		}
		c.wg.Add(1)
		go c.run(t)
	}
}

// Stop halts probing and waits for loops to exit
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()
}

func (c *Checker) run(t *target) {
	defer c.wg.Done()

	interval := time.Duration(t.upstream.HealthCheck.Interval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.check(t)
		case <-c.stopChan:
			return
		}
	}
}

// RecordOutcome feeds a live-traffic observation for passive mode
func (c *Checker) RecordOutcome(upstreamID string, success bool) {
	c.mu.RLock()
	t := c.targets[upstreamID]
	c.mu.RUnlock()
	if t == nil {
		return
	}
	t.mu.Lock()
	if success {
		t.passiveSuccess++
	} else {
		t.passiveFailure++
	}
	t.mu.Unlock()
}

func (c *Checker) check(t *target) {
	mode := Mode(t.upstream.HealthCheck.Mode)
	var ok bool
	var elapsed time.Duration

	switch mode {
	case ModePassive:
		ok = c.passiveVerdict(t)
	case ModeHybrid:
		var probeErr error
		ok, elapsed, probeErr = c.activeProbe(t.upstream)
		if probeErr != nil {
			// Probe machinery failed, not the upstream: fall back to
			// what live traffic says.
			ok = c.passiveVerdict(t)
		}
	default:
		ok, elapsed, _ = c.activeProbe(t.upstream)
	}

	c.applyResult(t, ok, elapsed)
}

// passiveVerdict judges recent live traffic, then clears the tallies.
// With no recorded outcomes at all the upstream is assumed healthy, so a
// fresh upstream serves before its first request.
func (c *Checker) passiveVerdict(t *target) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	success, failure := t.passiveSuccess, t.passiveFailure
	t.passiveSuccess, t.passiveFailure = 0, 0
	if success+failure == 0 {
		return true
	}
	return failure <= success
}

// activeProbe issues the configured GET and compares the status code.
// The error return reports probe infrastructure failures distinctly from
// an unhealthy verdict.
func (c *Checker) activeProbe(u *upstream.Upstream) (bool, time.Duration, error) {
	timeout := time.Duration(u.HealthCheck.Timeout) * time.Millisecond
	url := fmt.Sprintf("%s://%s%s", u.Protocol, u.Address(), u.HealthCheck.Path)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, 0, err
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return false, elapsed, nil
	}
	defer resp.Body.Close()

	return resp.StatusCode == u.HealthCheck.ExpectedStatus, elapsed, nil
}

// TCPProbe checks raw connectability of an upstream
func (c *Checker) TCPProbe(u *upstream.Upstream, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", u.Address(), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Checker) applyResult(t *target, ok bool, elapsed time.Duration) {
	t.mu.Lock()
	t.stats.TotalChecks++
	t.stats.LastResult = ok
	t.stats.LastCheck = time.Now()
	if elapsed > 0 {
		t.totalDuration += elapsed
		t.stats.AvgResponseTime = t.totalDuration / time.Duration(t.stats.TotalChecks)
	}
	if ok {
		t.stats.ConsecutiveSuccesses++
		t.stats.ConsecutiveFailures = 0
	} else {
		t.stats.TotalFailures++
		t.stats.ConsecutiveFailures++
		t.stats.ConsecutiveSuccesses = 0
	}
	consecFailures := t.stats.ConsecutiveFailures
	consecSuccesses := t.stats.ConsecutiveSuccesses
	inGrace := c.config.GracePeriod > 0 && time.Since(t.addedAt) < c.config.GracePeriod
	t.mu.Unlock()

	u := t.upstream
	wasHealthy := u.Healthy()

	if inGrace {
		if !wasHealthy {
			c.flip(u, true)
		}
		return
	}

	if wasHealthy && consecFailures >= c.config.UnhealthyThreshold {
		c.flip(u, false)
	} else if !wasHealthy && consecSuccesses >= c.config.HealthyThreshold {
		c.flip(u, true)
	}
}

func (c *Checker) flip(u *upstream.Upstream, healthy bool) {
	u.SetHealthy(healthy)
	c.logger.WithFields(logrus.Fields{
		"upstream": u.ID,
		"healthy":  healthy,
	}).Warn("Upstream health changed")

	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	for _, listener := range listeners {
		listener(u, healthy)
	}
}

// StatsFor returns the probe record for one upstream
func (c *Checker) StatsFor(upstreamID string) (Stats, bool) {
	c.mu.RLock()
	t := c.targets[upstreamID]
	c.mu.RUnlock()
	if t == nil {
		return Stats{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, true
}
