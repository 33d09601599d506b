package upstream

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go-apigateway/internal/errors"

	"github.com/sirupsen/logrus"
)

// PooledConnection is one keep-alive channel to an origin. Each carries a
// dedicated single-connection HTTP client so acquire/release maps onto a
// real socket slot.
type PooledConnection struct {
	client    *http.Client
	createdAt time.Time
	lastUsed  time.Time
	useCount  int64
	inUse     bool
}

// Client returns the HTTP client bound to this connection slot
func (pc *PooledConnection) Client() *http.Client {
	return pc.client
}

// UseCount reports how many requests this connection has served
func (pc *PooledConnection) UseCount() int64 {
	return pc.useCount
}

// PoolStats is a snapshot of the connection pool counters
type PoolStats struct {
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	Idle          int     `json:"idle"`
	TotalRequests int64   `json:"totalRequests"`
	Reused        int64   `json:"reused"`
	ReuseRate     float64 `json:"reuseRate"`
	Errors        int64   `json:"errors"`
}

// ConnPoolConfig tunes the connection pool
type ConnPoolConfig struct {
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	PollInterval time.Duration
}

// ConnectionPool maintains per-origin lists of pooled connections.
// Waiters poll for a freed slot; dispatch among concurrent waiters is
// unordered — whichever waiter observes the freed slot first wins.
type ConnectionPool struct {
	mu     sync.Mutex
	conns  map[string][]*PooledConnection
	config ConnPoolConfig
	logger *logrus.Logger

	totalRequests int64
	reused        int64
	errorCount    int64

	stopReaper chan struct{}
	reaperDone chan struct{}
	closed     bool
}

// NewConnectionPool creates a pool and starts its background reaper
func NewConnectionPool(cfg ConnPoolConfig, logger *logrus.Logger) *ConnectionPool {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &ConnectionPool{
		conns:      make(map[string][]*PooledConnection),
		config:     cfg,
		logger:     logger,
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Acquire returns a connection for u: a reusable idle connection if one
// exists, a fresh connection while the per-origin list is under the
// upstream's pool size, otherwise it waits for a release bounded by the
// upstream's connect timeout.
func (p *ConnectionPool) Acquire(ctx context.Context, u *Upstream) (*PooledConnection, error) {
	deadline := time.Now().Add(u.ConnectTimeout)

	for {
		if pc, ok := p.tryAcquire(u); ok {
			return pc, nil
		}

		if time.Now().After(deadline) {
			p.mu.Lock()
			p.errorCount++
			p.mu.Unlock()
			return nil, errors.TimeoutError("connection acquire for "+u.ID, u.ConnectTimeout)
		}
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.errorCount++
			p.mu.Unlock()
			return nil, errors.ConnectionError("request canceled while waiting for connection", ctx.Err())
		case <-time.After(p.config.PollInterval):
		}
	}
}

func (p *ConnectionPool) tryAcquire(u *Upstream) (*PooledConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false
	}

	key := u.PoolKey()
	now := time.Now()
	p.totalRequests++

	for _, pc := range p.conns[key] {
		if pc.inUse {
			continue
		}
		if now.Sub(pc.lastUsed) >= p.config.IdleTimeout {
			continue
		}
		pc.inUse = true
		pc.useCount++
		p.reused++
		u.addActive(1)
		return pc, true
	}

	if len(p.conns[key]) < u.PoolSize {
		pc := p.newConnection(u, now)
		pc.inUse = true
		pc.useCount = 1
		p.conns[key] = append(p.conns[key], pc)
		u.addActive(1)
		return pc, true
	}

	p.totalRequests--
	return nil, false
}

func (p *ConnectionPool) newConnection(u *Upstream, now time.Time) *PooledConnection {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   u.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     1,
		IdleConnTimeout:     p.config.IdleTimeout,
	}
	return &PooledConnection{
		client: &http.Client{
			Transport: transport,
			// Timeouts are applied per attempt by the dispatcher; the
			// client itself stays unbounded.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		createdAt: now,
		lastUsed:  now,
	}
}

// Release returns a connection to the pool. Poisoned connections (bytes
// exchanged mid-stream when the request was canceled) are destroyed
// instead of reused.
func (p *ConnectionPool) Release(u *Upstream, pc *PooledConnection, poisoned bool) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !pc.inUse {
		return
	}
	pc.inUse = false
	pc.lastUsed = time.Now()
	u.addActive(-1)

	if poisoned {
		p.removeLocked(u.PoolKey(), pc)
	}
}

func (p *ConnectionPool) removeLocked(key string, target *PooledConnection) {
	list := p.conns[key]
	for i, pc := range list {
		if pc == target {
			pc.client.CloseIdleConnections()
			p.conns[key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// reapLoop removes idle connections past the idle timeout
func (p *ConnectionPool) reapLoop() {
	defer close(p.reaperDone)
	ticker := time.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

func (p *ConnectionPool) reap() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	reaped := 0
	for key, list := range p.conns {
		kept := list[:0]
		for _, pc := range list {
			if !pc.inUse && now.Sub(pc.lastUsed) >= p.config.IdleTimeout {
				pc.client.CloseIdleConnections()
				reaped++
				continue
			}
			kept = append(kept, pc)
		}
		p.conns[key] = kept
	}
	if reaped > 0 {
		p.logger.WithField("reaped", reaped).Debug("Reaped idle connections")
	}
}

// Destroy closes every connection and stops the reaper
func (p *ConnectionPool) Destroy() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for key, list := range p.conns {
		for _, pc := range list {
			pc.client.CloseIdleConnections()
		}
		delete(p.conns, key)
	}
	p.mu.Unlock()

	close(p.stopReaper)
	<-p.reaperDone
}

// Stats returns a snapshot of the pool counters
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		TotalRequests: p.totalRequests,
		Reused:        p.reused,
		Errors:        p.errorCount,
	}
	for _, list := range p.conns {
		stats.Total += len(list)
		for _, pc := range list {
			if pc.inUse {
				stats.Active++
			} else {
				stats.Idle++
			}
		}
	}
	if stats.TotalRequests > 0 {
		stats.ReuseRate = float64(p.reused) / float64(stats.TotalRequests)
	}
	return stats
}
