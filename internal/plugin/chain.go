package plugin

import (
	"context"
	"sort"
	"time"

	"go-apigateway/internal/errors"
	"go-apigateway/internal/gwcontext"
	"go-apigateway/internal/timeout"

	"github.com/sirupsen/logrus"
)

// ChainConfig tunes chain behavior
type ChainConfig struct {
	DefaultTimeout      time.Duration
	ShortCircuitOnError bool
	CollectMetrics      bool
}

type registration struct {
	plugin  *Plugin
	enabled bool
	initErr error
	metrics *Metrics
}

// Chain runs plugins sequentially in ascending order for each hook. Hook
// timeouts are enforced by the shared timeout manager under its plugin
// operation class.
type Chain struct {
	config   ChainConfig
	plugins  []*registration
	byName   map[string]*registration
	bus      *EventBus
	timeouts *timeout.Manager
	logger   *logrus.Logger
}

// NewChain creates an empty chain. A nil timeouts manager gets a private
// one sized from the chain's default hook budget.
func NewChain(config ChainConfig, timeouts *timeout.Manager, logger *logrus.Logger) *Chain {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeouts == nil {
		timeouts = timeout.NewManager(timeout.Config{Plugin: config.DefaultTimeout}, logger)
	}
	return &Chain{
		config:   config,
		byName:   make(map[string]*registration),
		bus:      NewEventBus(logger),
		timeouts: timeouts,
		logger:   logger,
	}
}

// Bus returns the cross-plugin event bus
func (c *Chain) Bus() *EventBus {
	return c.bus
}

// Register adds a plugin. A plugin registered without an explicit order
// receives its registration index. Re-registering a name replaces the
// previous plugin.
func (c *Chain) Register(p *Plugin) {
	reg := &registration{
		plugin:  p,
		enabled: true,
		metrics: newMetrics(),
	}
	if p.Order == 0 {
		p.Order = len(c.plugins)
	}
	if prev, ok := c.byName[p.Name]; ok {
		for i, r := range c.plugins {
			if r == prev {
				c.plugins[i] = reg
				c.byName[p.Name] = reg
				c.sortPlugins()
				return
			}
		}
	}
	c.plugins = append(c.plugins, reg)
	c.byName[p.Name] = reg
	c.sortPlugins()
}

func (c *Chain) sortPlugins() {
	sort.SliceStable(c.plugins, func(i, j int) bool {
		return c.plugins[i].plugin.Order < c.plugins[j].plugin.Order
	})
}

// Enable re-enables a plugin by name
func (c *Chain) Enable(name string) {
	if reg, ok := c.byName[name]; ok {
		reg.enabled = true
	}
}

// Disable removes a plugin from execution without unregistering it
func (c *Chain) Disable(name string) {
	if reg, ok := c.byName[name]; ok {
		reg.enabled = false
	}
}

// InitializeAll runs every INIT hook. A failed INIT does not disable the
// plugin; the failure is stored and surfaces at its first runtime hook.
func (c *Chain) InitializeAll() {
	for _, reg := range c.plugins {
		if reg.plugin.Init == nil {
			continue
		}
		if err := reg.plugin.Init(); err != nil {
			reg.initErr = err
			c.logger.WithError(err).WithField("plugin", reg.plugin.Name).Error("Plugin INIT failed")
		}
	}
}

// DestroyAll runs every DESTROY hook in reverse order
func (c *Chain) DestroyAll() {
	for i := len(c.plugins) - 1; i >= 0; i-- {
		reg := c.plugins[i]
		if reg.plugin.Destroy == nil {
			continue
		}
		if err := reg.plugin.Destroy(); err != nil {
			c.logger.WithError(err).WithField("plugin", reg.plugin.Name).Warn("Plugin DESTROY failed")
		}
	}
}

// ExecuteHook runs one hook across the chain. Plugins run in ascending
// order; a plugin that marks the context responded short-circuits the rest
// of this hook. The first error is returned once the hook finishes, unless
// ShortCircuitOnError aborts the remainder immediately.
func (c *Chain) ExecuteHook(hook Hook, ctx *gwcontext.RequestContext) error {
	if ctx.Responded && hook != HookPostResponse {
		return nil
	}

	var firstErr error
	for _, reg := range c.plugins {
		if !reg.enabled {
			continue
		}
		fn := reg.plugin.hookFunc(hook)
		if fn == nil {
			continue
		}
		if err := c.runOne(reg, hook, func() error { return fn(ctx) }); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if c.config.ShortCircuitOnError {
				break
			}
			continue
		}
		if ctx.Responded && hook != HookPostResponse {
			break
		}
	}
	c.bus.Drain()
	return firstErr
}

// ExecuteError runs the ON_ERROR hook with the pipeline error. It runs
// even when the context has already been responded to.
func (c *Chain) ExecuteError(ctx *gwcontext.RequestContext, cause error) {
	for _, reg := range c.plugins {
		if !reg.enabled || reg.plugin.OnError == nil {
			continue
		}
		if err := c.runOne(reg, HookOnError, func() error { return reg.plugin.OnError(ctx, cause) }); err != nil {
			c.logger.WithError(err).WithField("plugin", reg.plugin.Name).Warn("ON_ERROR hook failed")
		}
	}
	c.bus.Drain()
}

// runOne wraps one plugin invocation with the timeout guard and metrics
func (c *Chain) runOne(reg *registration, hook Hook, fn func() error) error {
	if reg.initErr != nil {
		err := errors.PluginError(reg.plugin.Name, reg.initErr)
		reg.initErr = nil
		if c.config.CollectMetrics {
			reg.metrics.record(0, false, false)
		}
		return err
	}

	budget := reg.plugin.Timeout
	if budget <= 0 {
		budget = c.config.DefaultTimeout
	}

	start := time.Now()
	err := c.timeouts.Execute(func(context.Context) error { return fn() }, timeout.OpPlugin, budget)
	elapsed := time.Since(start)

	timedOut := false
	if ge, ok := err.(*errors.GatewayError); ok && ge.Code == errors.ErrCodePluginTimeout {
		timedOut = true
		err = errors.PluginTimeoutError(reg.plugin.Name, budget)
	} else if err != nil {
		if _, ok := err.(*errors.GatewayError); !ok {
			err = errors.PluginError(reg.plugin.Name, err)
		}
	}

	if c.config.CollectMetrics {
		reg.metrics.record(elapsed, err == nil, timedOut)
	}
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"plugin": reg.plugin.Name,
			"hook":   string(hook),
		}).Error("Plugin hook failed")
	}
	return err
}

// MetricsSnapshot returns the per-plugin metrics keyed by name
func (c *Chain) MetricsSnapshot() map[string]MetricsSnapshot {
	out := make(map[string]MetricsSnapshot, len(c.plugins))
	for _, reg := range c.plugins {
		out[reg.plugin.Name] = reg.metrics.snapshot()
	}
	return out
}
