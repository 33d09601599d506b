// Package cache implements the LRU response cache and its HTTP semantics
package cache

import (
	"container/list"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one cached response
type Entry struct {
	Status               int
	Headers              map[string]string
	Body                 []byte
	CachedAt             time.Time
	TTL                  time.Duration
	ETag                 string
	LastModified         string
	Size                 int64
	StaleWhileRevalidate time.Duration
	LastAccess           time.Time
	Hits                 int64

	element *list.Element
}

// Stats is the cache counter snapshot
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hitRate"`
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	Evictions int64   `json:"evictions"`
}

// GetResult distinguishes fresh hits from stale-while-revalidate hits
type GetResult struct {
	Entry *Entry
	Stale bool // caller should revalidate in the background
}

// Config sizes the cache
type Config struct {
	MaxEntries   int
	MaxSizeBytes int64
	DefaultTTL   time.Duration
}

// Cache is a byte- and entry-bounded LRU response cache. The LRU list
// tail is most recently used; the front is the next eviction victim.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	lru     *list.List // of string keys, front = coldest
	config  Config
	size    int64
	logger  *logrus.Logger

	hits      int64
	misses    int64
	evictions int64
}

// New creates an empty cache
func New(config Config, logger *logrus.Logger) *Cache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.MaxSizeBytes <= 0 {
		config.MaxSizeBytes = 100 * 1024 * 1024
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cache{
		entries: make(map[string]*Entry),
		lru:     list.New(),
		config:  config,
		logger:  logger,
	}
}

// Set stores entry under key, evicting LRU victims until both bounds
// hold. Entries larger than the byte budget are refused. A prior entry
// for the key is replaced.
func (c *Cache) Set(key string, entry *Entry) bool {
	if entry.Size == 0 {
		entry.Size = int64(len(entry.Body))
	}
	if entry.Size > c.config.MaxSizeBytes {
		return false
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[key]; ok {
		c.removeLocked(key, prev)
	}

	for len(c.entries) >= c.config.MaxEntries || c.size+entry.Size > c.config.MaxSizeBytes {
		if !c.evictOldestLocked() {
			return false
		}
	}

	entry.LastAccess = time.Now()
	entry.element = c.lru.PushBack(key)
	c.entries[key] = entry
	c.size += entry.Size
	return true
}

// Get returns the entry for key. Fresh entries bump the LRU position;
// entries inside their stale-while-revalidate window come back with
// Stale set; anything older is deleted and reported as a miss.
func (c *Cache) Get(key string) GetResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return GetResult{}
	}

	age := time.Since(entry.CachedAt)
	switch {
	case age <= entry.TTL:
		c.hits++
		entry.Hits++
		entry.LastAccess = time.Now()
		c.lru.MoveToBack(entry.element)
		return GetResult{Entry: entry}
	case entry.StaleWhileRevalidate > 0 && age <= entry.TTL+entry.StaleWhileRevalidate:
		c.hits++
		entry.Hits++
		entry.LastAccess = time.Now()
		c.lru.MoveToBack(entry.element)
		return GetResult{Entry: entry, Stale: true}
	default:
		c.removeLocked(key, entry)
		c.misses++
		return GetResult{}
	}
}

// Has reports presence without touching LRU order or counters
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Delete removes a key
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(key, entry)
	return true
}

// Clear removes everything
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.lru.Init()
	c.size = 0
}

// Purge removes every key matching pattern and returns the count
func (c *Cache) Purge(pattern *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for key, entry := range c.entries {
		if pattern.MatchString(key) {
			c.removeLocked(key, entry)
			purged++
		}
	}
	return purged
}

func (c *Cache) removeLocked(key string, entry *Entry) {
	c.lru.Remove(entry.element)
	delete(c.entries, key)
	c.size -= entry.Size
}

func (c *Cache) evictOldestLocked() bool {
	front := c.lru.Front()
	if front == nil {
		return false
	}
	key := front.Value.(string)
	entry := c.entries[key]
	c.removeLocked(key, entry)
	c.evictions++
	return true
}

// Stats returns the counter snapshot
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Entries:   len(c.entries),
		SizeBytes: c.size,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}
