package plugin

import (
	"fmt"
	"testing"
	"time"

	"go-apigateway/internal/errors"
	"go-apigateway/internal/gwcontext"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(cfg ChainConfig) *Chain {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = time.Second
	}
	cfg.CollectMetrics = true
	return NewChain(cfg, nil, nil)
}

func TestHooksRunInAscendingOrder(t *testing.T) {
	c := newTestChain(ChainConfig{})
	var order []string

	c.Register(&Plugin{
		Name:  "second",
		Order: 20,
		PreRoute: func(*gwcontext.RequestContext) error {
			order = append(order, "second")
			return nil
		},
	})
	c.Register(&Plugin{
		Name:  "first",
		Order: 10,
		PreRoute: func(*gwcontext.RequestContext) error {
			order = append(order, "first")
			return nil
		},
	})

	err := c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestShortCircuitSkipsRemainderOfHook(t *testing.T) {
	c := newTestChain(ChainConfig{})
	ran := false

	c.Register(&Plugin{
		Name:  "responder",
		Order: 1,
		PreHandler: func(ctx *gwcontext.RequestContext) error {
			ctx.Respond(403, "application/json", []byte(`{}`))
			return nil
		},
	})
	c.Register(&Plugin{
		Name:  "after",
		Order: 2,
		PreHandler: func(*gwcontext.RequestContext) error {
			ran = true
			return nil
		},
	})

	ctx := &gwcontext.RequestContext{}
	require.NoError(t, c.ExecuteHook(HookPreHandler, ctx))
	assert.True(t, ctx.Responded)
	assert.False(t, ran)
}

func TestPostResponseRunsDespiteResponded(t *testing.T) {
	c := newTestChain(ChainConfig{})
	ran := 0

	c.Register(&Plugin{
		Name:  "a",
		Order: 1,
		PostResponse: func(*gwcontext.RequestContext) error {
			ran++
			return nil
		},
	})
	c.Register(&Plugin{
		Name:  "b",
		Order: 2,
		PostResponse: func(*gwcontext.RequestContext) error {
			ran++
			return nil
		},
	})

	ctx := &gwcontext.RequestContext{}
	ctx.Respond(200, "text/plain", nil)
	require.NoError(t, c.ExecuteHook(HookPostResponse, ctx))
	assert.Equal(t, 2, ran)
}

func TestErrorDoesNotAbortSiblings(t *testing.T) {
	c := newTestChain(ChainConfig{})
	ran := false

	c.Register(&Plugin{
		Name:  "failing",
		Order: 1,
		PreRoute: func(*gwcontext.RequestContext) error {
			return fmt.Errorf("boom")
		},
	})
	c.Register(&Plugin{
		Name:  "next",
		Order: 2,
		PreRoute: func(*gwcontext.RequestContext) error {
			ran = true
			return nil
		},
	})

	err := c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{})
	require.Error(t, err)
	assert.True(t, ran)

	ge, ok := err.(*errors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodePlugin, ge.Code)
}

func TestShortCircuitOnErrorAborts(t *testing.T) {
	c := newTestChain(ChainConfig{ShortCircuitOnError: true})
	ran := false

	c.Register(&Plugin{
		Name:  "failing",
		Order: 1,
		PreRoute: func(*gwcontext.RequestContext) error {
			return fmt.Errorf("boom")
		},
	})
	c.Register(&Plugin{
		Name:  "next",
		Order: 2,
		PreRoute: func(*gwcontext.RequestContext) error {
			ran = true
			return nil
		},
	})

	require.Error(t, c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{}))
	assert.False(t, ran)
}

func TestHookTimeout(t *testing.T) {
	c := newTestChain(ChainConfig{})
	c.Register(&Plugin{
		Name:    "slow",
		Order:   1,
		Timeout: 20 * time.Millisecond,
		PreRoute: func(*gwcontext.RequestContext) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	})

	err := c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{})
	require.Error(t, err)

	ge, ok := err.(*errors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodePluginTimeout, ge.Code)
	assert.False(t, ge.Retryable)

	snap := c.MetricsSnapshot()["slow"]
	assert.Equal(t, int64(1), snap.Timeouts)
	assert.Equal(t, int64(1), snap.Errors)
}

func TestInitFailureSurfacesAtFirstInvocation(t *testing.T) {
	c := newTestChain(ChainConfig{})
	ran := 0

	c.Register(&Plugin{
		Name:  "badinit",
		Order: 1,
		Init:  func() error { return fmt.Errorf("init exploded") },
		PreRoute: func(*gwcontext.RequestContext) error {
			ran++
			return nil
		},
	})
	c.InitializeAll()

	err := c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{})
	require.Error(t, err)
	assert.Equal(t, 0, ran)

	// The failure surfaced once; the plugin then runs normally
	require.NoError(t, c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{}))
	assert.Equal(t, 1, ran)
}

func TestDisableEnable(t *testing.T) {
	c := newTestChain(ChainConfig{})
	ran := 0

	c.Register(&Plugin{
		Name:  "toggle",
		Order: 1,
		PreRoute: func(*gwcontext.RequestContext) error {
			ran++
			return nil
		},
	})

	c.Disable("toggle")
	require.NoError(t, c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{}))
	assert.Equal(t, 0, ran)

	c.Enable("toggle")
	require.NoError(t, c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{}))
	assert.Equal(t, 1, ran)
}

func TestOnErrorReceivesError(t *testing.T) {
	c := newTestChain(ChainConfig{})
	var seen error

	c.Register(&Plugin{
		Name:  "observer",
		Order: 1,
		OnError: func(ctx *gwcontext.RequestContext, err error) error {
			seen = err
			return nil
		},
	})

	ctx := &gwcontext.RequestContext{}
	ctx.Respond(500, "application/json", nil)
	cause := errors.UpstreamError("bad gateway", nil)
	c.ExecuteError(ctx, cause)
	assert.Equal(t, cause, seen)
}

func TestMetricsRecorded(t *testing.T) {
	c := newTestChain(ChainConfig{})
	c.Register(&Plugin{
		Name:  "counted",
		Order: 1,
		PreRoute: func(*gwcontext.RequestContext) error {
			return nil
		},
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{}))
	}

	snap := c.MetricsSnapshot()["counted"]
	assert.Equal(t, int64(5), snap.Invocations)
	assert.Equal(t, int64(5), snap.Successes)
	assert.Equal(t, int64(0), snap.Errors)
	assert.GreaterOrEqual(t, snap.MaxMicros, snap.MinMicros)
	assert.False(t, snap.LastExecution.IsZero())
}

func TestEventBusDefersDelivery(t *testing.T) {
	c := newTestChain(ChainConfig{})
	var sequence []string

	c.Bus().Subscribe("ping", func(e Event) {
		sequence = append(sequence, "delivered")
	})
	c.Register(&Plugin{
		Name:  "emitter",
		Order: 1,
		PreRoute: func(*gwcontext.RequestContext) error {
			c.Bus().Emit("emitter", "ping", nil)
			sequence = append(sequence, "emitted")
			return nil
		},
	})
	c.Register(&Plugin{
		Name:  "later",
		Order: 2,
		PreRoute: func(*gwcontext.RequestContext) error {
			sequence = append(sequence, "later")
			return nil
		},
	})

	require.NoError(t, c.ExecuteHook(HookPreRoute, &gwcontext.RequestContext{}))
	// Delivery happens after every plugin of the hook has run
	assert.Equal(t, []string{"emitted", "later", "delivered"}, sequence)
}
