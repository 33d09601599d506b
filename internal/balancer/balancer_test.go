package balancer

import (
	"testing"

	"go-apigateway/internal/config"
	"go-apigateway/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUpstream(id string, weight int) *upstream.Upstream {
	return upstream.FromConfig(config.UpstreamConfig{
		ID:       id,
		Protocol: "http",
		Host:     "backend-" + id,
		Port:     8080,
		Weight:   weight,
		PoolSize: 4,
		Timeout:  1000,
	})
}

func TestRoundRobinCycles(t *testing.T) {
	b := New(RoundRobin, nil)
	b.SetUpstreams([]*upstream.Upstream{
		testUpstream("a", 1),
		testUpstream("b", 1),
		testUpstream("c", 1),
	})

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, b.Select(Hints{}).ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestHealthAwareSkipsUnhealthy(t *testing.T) {
	a, bb, c := testUpstream("a", 1), testUpstream("b", 1), testUpstream("c", 1)
	b := New(RoundRobin, nil)
	b.SetUpstreams([]*upstream.Upstream{a, bb, c})

	bb.SetHealthy(false)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[b.Select(Hints{}).ID] = true
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["c"])
	assert.False(t, seen["b"])
}

func TestSelectReturnsNilWhenAllUnhealthy(t *testing.T) {
	a := testUpstream("a", 1)
	b := New(RoundRobin, nil)
	b.SetUpstreams([]*upstream.Upstream{a})

	a.SetHealthy(false)
	assert.Nil(t, b.Select(Hints{}))

	b.SetHealthAware(false)
	assert.NotNil(t, b.Select(Hints{}))
}

func TestLeastConnectionsPrefersIdle(t *testing.T) {
	a, bb := testUpstream("a", 1), testUpstream("b", 1)
	b := New(LeastConnections, nil)
	b.SetUpstreams([]*upstream.Upstream{a, bb})

	// Ties break by declaration order
	assert.Equal(t, "a", b.Select(Hints{}).ID)
}

func TestWeightedRoundRobinProportions(t *testing.T) {
	b := New(WeightedRoundRobin, nil)
	b.SetUpstreams([]*upstream.Upstream{
		testUpstream("heavy", 3),
		testUpstream("light", 1),
	})

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		counts[b.Select(Hints{}).ID]++
	}
	assert.Equal(t, 30, counts["heavy"])
	assert.Equal(t, 10, counts["light"])
}

func TestWeightedSkipsUnhealthy(t *testing.T) {
	heavy, light := testUpstream("heavy", 3), testUpstream("light", 1)
	b := New(WeightedRoundRobin, nil)
	b.SetUpstreams([]*upstream.Upstream{heavy, light})

	heavy.SetHealthy(false)
	for i := 0; i < 8; i++ {
		require.Equal(t, "light", b.Select(Hints{}).ID)
	}
}

func TestIPHashDeterministic(t *testing.T) {
	b := New(IPHash, nil)
	b.SetUpstreams([]*upstream.Upstream{
		testUpstream("a", 1),
		testUpstream("b", 1),
		testUpstream("c", 1),
	})

	first := b.Select(Hints{ClientIP: "10.0.0.7"}).ID
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, b.Select(Hints{ClientIP: "10.0.0.7"}).ID)
	}
}

func TestIPHashFallsBackToRoundRobin(t *testing.T) {
	b := New(IPHash, nil)
	b.SetUpstreams([]*upstream.Upstream{
		testUpstream("a", 1),
		testUpstream("b", 1),
	})

	first := b.Select(Hints{}).ID
	second := b.Select(Hints{}).ID
	assert.NotEqual(t, first, second)
}

func TestRandomStaysInHealthySet(t *testing.T) {
	a, bb := testUpstream("a", 1), testUpstream("b", 1)
	bb.SetHealthy(false)
	b := New(Random, nil)
	b.SetUpstreams([]*upstream.Upstream{a, bb})

	for i := 0; i < 20; i++ {
		assert.Equal(t, "a", b.Select(Hints{}).ID)
	}
}

func TestSetStrategyResetsCursor(t *testing.T) {
	b := New(RoundRobin, nil)
	b.SetUpstreams([]*upstream.Upstream{
		testUpstream("a", 1),
		testUpstream("b", 1),
	})

	b.Select(Hints{})
	b.SetStrategy(RoundRobin)
	assert.Equal(t, "a", b.Select(Hints{}).ID)
}

func TestMetricsDistribution(t *testing.T) {
	a, bb := testUpstream("a", 1), testUpstream("b", 1)
	b := New(RoundRobin, nil)
	b.SetUpstreams([]*upstream.Upstream{a, bb})

	for i := 0; i < 10; i++ {
		u := b.Select(Hints{})
		b.RecordLatency(u, 12.5)
	}
	b.RecordError(a)

	m := b.GetMetrics()
	assert.Equal(t, int64(10), m.TotalRequests)
	assert.Equal(t, int64(5), m.Upstreams["a"].Requests)
	assert.Equal(t, int64(1), m.Upstreams["a"].Errors)
	assert.InDelta(t, 50.0, m.Upstreams["a"].Share, 0.01)
}
