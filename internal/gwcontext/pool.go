package gwcontext

import (
	"sync"
	"time"
)

// PoolStats is a snapshot of pool effectiveness counters
type PoolStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	TotalAcquired int64   `json:"totalAcquired"`
	InUse         int64   `json:"inUse"`
	FreeListSize  int     `json:"freeListSize"`
	HitRate       float64 `json:"hitRate"`
}

// Pool is a fixed-capacity free list of RequestContexts. A pop from the
// free list counts as a hit; an empty list allocates and counts as a miss.
// Contexts released beyond maxSize are dropped for the garbage collector.
type Pool struct {
	mu       sync.Mutex
	free     []*RequestContext
	maxSize  int
	hits     int64
	misses   int64
	acquired int64
	inUse    int64
}

// DefaultPoolSize is the initial capacity when the config omits one
const DefaultPoolSize = 1000

// NewPool creates a pool pre-filled with size contexts
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &Pool{
		free:    make([]*RequestContext, 0, size),
		maxSize: size,
	}
	for i := 0; i < size; i++ {
		p.free = append(p.free, &RequestContext{
			Query:   make(map[string]string, 8),
			Params:  make(map[string]string, 4),
			Headers: make(map[string][]string, 16),
			pooled:  true,
		})
	}
	return p
}

// Acquire returns a clean context stamped with the current time
func (p *Pool) Acquire() *RequestContext {
	p.mu.Lock()
	var ctx *RequestContext
	if n := len(p.free); n > 0 {
		ctx = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.hits++
	} else {
		ctx = &RequestContext{
			Query:   make(map[string]string, 8),
			Params:  make(map[string]string, 4),
			Headers: make(map[string][]string, 16),
			pooled:  true,
		}
		p.misses++
	}
	p.acquired++
	p.inUse++
	p.mu.Unlock()

	ctx.released = false
	ctx.StartTime = time.Now()
	return ctx
}

// Release resets ctx and returns it to the free list. Releasing twice is a
// no-op, as is releasing a context that did not come from this pool.
func (p *Pool) Release(ctx *RequestContext) {
	if ctx == nil || !ctx.pooled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.released {
		return
	}
	ctx.released = true
	p.inUse--

	if len(p.free) >= p.maxSize {
		return
	}
	ctx.reset()
	ctx.released = true
	p.free = append(p.free, ctx)
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Hits:          p.hits,
		Misses:        p.misses,
		TotalAcquired: p.acquired,
		InUse:         p.inUse,
		FreeListSize:  len(p.free),
	}
	if total := p.hits + p.misses; total > 0 {
		stats.HitRate = float64(p.hits) / float64(total)
	}
	return stats
}
