package cache

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(maxEntries int, maxBytes int64) *Cache {
	return New(Config{
		MaxEntries:   maxEntries,
		MaxSizeBytes: maxBytes,
		DefaultTTL:   time.Minute,
	}, nil)
}

func entryOf(body string, ttl time.Duration) *Entry {
	return &Entry{
		Status:  200,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(body),
		TTL:     ttl,
	}
}

func TestMissThenHit(t *testing.T) {
	c := testCache(10, 1<<20)

	assert.Nil(t, c.Get("k").Entry)

	require.True(t, c.Set("k", entryOf("value", time.Minute)))
	result := c.Get("k")
	require.NotNil(t, result.Entry)
	assert.False(t, result.Stale)
	assert.Equal(t, "value", string(result.Entry.Body))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestStaleWhileRevalidateWindow(t *testing.T) {
	c := testCache(10, 1<<20)

	entry := entryOf("stale-ok", time.Second)
	entry.StaleWhileRevalidate = 5 * time.Second
	require.True(t, c.Set("k", entry))

	// Past TTL but inside the stale window
	entry.CachedAt = time.Now().Add(-1200 * time.Millisecond)
	result := c.Get("k")
	require.NotNil(t, result.Entry)
	assert.True(t, result.Stale)
	assert.Equal(t, "stale-ok", string(result.Entry.Body))

	// Past TTL plus the stale window: deleted
	entry.CachedAt = time.Now().Add(-7 * time.Second)
	result = c.Get("k")
	assert.Nil(t, result.Entry)
	assert.False(t, c.Has("k"))
}

func TestLRUEvictionOnEntryCount(t *testing.T) {
	c := testCache(2, 1<<20)

	require.True(t, c.Set("a", entryOf("aa", time.Minute)))
	require.True(t, c.Set("b", entryOf("bb", time.Minute)))

	// Touch "a" so "b" is the least recently used
	require.NotNil(t, c.Get("a").Entry)

	require.True(t, c.Set("c", entryOf("cc", time.Minute)))
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("c"))
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestByteBudgetInvariant(t *testing.T) {
	c := testCache(100, 100)

	require.True(t, c.Set("a", entryOf("0123456789012345678901234567890123456789", time.Minute))) // 40 bytes
	require.True(t, c.Set("b", entryOf("0123456789012345678901234567890123456789", time.Minute)))
	require.True(t, c.Set("c", entryOf("0123456789012345678901234567890123456789", time.Minute)))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.SizeBytes, int64(100))
	assert.Equal(t, 2, stats.Entries)
}

func TestOversizeEntryRefused(t *testing.T) {
	c := testCache(10, 10)
	assert.False(t, c.Set("big", entryOf("this body is larger than ten bytes", time.Minute)))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestReplaceKeepsSizeAccounting(t *testing.T) {
	c := testCache(10, 1<<20)

	require.True(t, c.Set("k", entryOf("aaaa", time.Minute)))
	require.True(t, c.Set("k", entryOf("bb", time.Minute)))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(2), stats.SizeBytes)
}

func TestDeleteClearPurge(t *testing.T) {
	c := testCache(10, 1<<20)
	for i := 0; i < 5; i++ {
		require.True(t, c.Set(fmt.Sprintf("user:%d", i), entryOf("x", time.Minute)))
	}
	require.True(t, c.Set("other", entryOf("y", time.Minute)))

	assert.True(t, c.Delete("user:0"))
	assert.False(t, c.Delete("user:0"))

	purged := c.Purge(regexp.MustCompile(`^user:`))
	assert.Equal(t, 4, purged)
	assert.True(t, c.Has("other"))

	c.Clear()
	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.SizeBytes)
}

func TestGenerateKeyStableUnderVaryOrder(t *testing.T) {
	a := GenerateKey("GET", "/api/items", map[string]string{
		"Accept-Encoding": "gzip",
		"Accept-Language": "en",
	})
	b := GenerateKey("GET", "/api/items", map[string]string{
		"Accept-Language": "en",
		"Accept-Encoding": "gzip",
	})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := GenerateKey("GET", "/api/items", map[string]string{"Accept-Encoding": "br"})
	assert.NotEqual(t, a, c)
}

func TestGenerateETagPure(t *testing.T) {
	body := []byte("response payload")
	first := GenerateETag(body)
	second := GenerateETag([]byte("response payload"))
	assert.Equal(t, first, second)
	assert.Equal(t, byte('"'), first[0])
	assert.NotEqual(t, first, GenerateETag([]byte("different")))
}

func TestIsCacheable(t *testing.T) {
	ok := map[string]string{}
	assert.True(t, IsCacheable(200, ok, "GET"))
	assert.True(t, IsCacheable(204, ok, "HEAD"))
	assert.False(t, IsCacheable(200, ok, "POST"))
	assert.False(t, IsCacheable(404, ok, "GET"))
	assert.False(t, IsCacheable(200, map[string]string{"Cache-Control": "no-store"}, "GET"))
	assert.False(t, IsCacheable(200, map[string]string{"Cache-Control": "private, max-age=60"}, "GET"))
	assert.False(t, IsCacheable(200, map[string]string{"Cache-Control": "no-cache"}, "GET"))
	assert.True(t, IsCacheable(200, map[string]string{"Cache-Control": "public, max-age=60"}, "GET"))
}

func TestParseCacheControlRoundTrip(t *testing.T) {
	header := "max-age=60, no-transform, s-maxage=120"
	directives := ParseCacheControl(header)
	assert.Equal(t, "60", directives["max-age"])
	assert.Equal(t, "120", directives["s-maxage"])
	_, ok := directives["no-transform"]
	assert.True(t, ok)

	assert.Equal(t, header, FormatCacheControl(directives))
}

func TestGetTTLPriority(t *testing.T) {
	assert.Equal(t, 120*time.Second, GetTTL(map[string]string{"s-maxage": "120", "max-age": "60"}, time.Minute))
	assert.Equal(t, 60*time.Second, GetTTL(map[string]string{"max-age": "60"}, time.Minute))
	assert.Equal(t, time.Minute, GetTTL(map[string]string{}, time.Minute))
}

func TestCheckConditional(t *testing.T) {
	entry := &Entry{
		ETag:         `"abc123"`,
		LastModified: "Mon, 02 Jan 2006 15:04:05 MST",
	}

	assert.True(t, CheckConditional(`"abc123"`, "", entry))
	assert.True(t, CheckConditional(`"zzz", "abc123"`, "", entry))
	assert.True(t, CheckConditional("*", "", entry))
	assert.False(t, CheckConditional(`"other"`, "", entry))
	assert.True(t, CheckConditional("", "Tue, 03 Jan 2006 15:04:05 MST", entry))
	assert.False(t, CheckConditional("", "Sun, 01 Jan 2006 15:04:05 MST", entry))
}

func TestSizeAccountingInvariant(t *testing.T) {
	c := testCache(50, 1<<20)

	var expected int64
	for i := 0; i < 30; i++ {
		body := fmt.Sprintf("body-%02d", i)
		require.True(t, c.Set(fmt.Sprintf("k%d", i), entryOf(body, time.Minute)))
		expected += int64(len(body))
	}
	c.Delete("k3")
	expected -= int64(len("body-03"))

	assert.Equal(t, expected, c.Stats().SizeBytes)
}
