package config

import (
	"fmt"
	"regexp"
	"strings"
)

var upstreamIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// Validate checks the document against the schema constraints. It returns
// the first violation found.
func (c *Config) Validate() error {
	if !validEnvironments[c.Environment] {
		return fmt.Errorf("environment must be development, staging or production, got %q", c.Environment)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.KeepAliveTimeout < 1000 {
		return fmt.Errorf("server.keepAliveTimeout must be >= 1000ms, got %d", c.Server.KeepAliveTimeout)
	}
	if c.Server.RequestTimeout < 100 {
		return fmt.Errorf("server.requestTimeout must be >= 100ms, got %d", c.Server.RequestTimeout)
	}
	if c.Server.MaxHeaderSize < 1024 {
		return fmt.Errorf("server.maxHeaderSize must be >= 1024, got %d", c.Server.MaxHeaderSize)
	}
	if c.Server.MaxBodySize < 1024 {
		return fmt.Errorf("server.maxBodySize must be >= 1024, got %d", c.Server.MaxBodySize)
	}

	if c.Performance.WorkerCount < 0 {
		return fmt.Errorf("performance.workerCount must be >= 0, got %d", c.Performance.WorkerCount)
	}
	if c.Performance.ContextPoolSize < 10 {
		return fmt.Errorf("performance.contextPoolSize must be >= 10, got %d", c.Performance.ContextPoolSize)
	}
	if c.Performance.BufferPoolSize < 10 {
		return fmt.Errorf("performance.bufferPoolSize must be >= 10, got %d", c.Performance.BufferPoolSize)
	}
	if c.Performance.ResponsePoolSize < 10 {
		return fmt.Errorf("performance.responsePoolSize must be >= 10, got %d", c.Performance.ResponsePoolSize)
	}

	seen := make(map[string]bool, len(c.Upstreams))
	for _, u := range c.Upstreams {
		if !upstreamIDPattern.MatchString(u.ID) {
			return fmt.Errorf("upstream id %q must match [A-Za-z0-9_-]+", u.ID)
		}
		if seen[u.ID] {
			return fmt.Errorf("duplicate upstream id %q", u.ID)
		}
		seen[u.ID] = true
		if u.Protocol != "http" && u.Protocol != "https" {
			return fmt.Errorf("upstream %s: protocol must be http or https, got %q", u.ID, u.Protocol)
		}
		if u.Host == "" {
			return fmt.Errorf("upstream %s: host is required", u.ID)
		}
		if u.Port < 1 || u.Port > 65535 {
			return fmt.Errorf("upstream %s: port must be in 1..65535, got %d", u.ID, u.Port)
		}
		if u.PoolSize < 1 {
			return fmt.Errorf("upstream %s: poolSize must be >= 1, got %d", u.ID, u.PoolSize)
		}
		if u.Timeout < 100 {
			return fmt.Errorf("upstream %s: timeout must be >= 100ms, got %d", u.ID, u.Timeout)
		}
		hc := u.HealthCheck
		if hc.Enabled {
			if hc.Interval < 1000 {
				return fmt.Errorf("upstream %s: healthCheck.interval must be >= 1000ms, got %d", u.ID, hc.Interval)
			}
			if hc.Timeout < 100 {
				return fmt.Errorf("upstream %s: healthCheck.timeout must be >= 100ms, got %d", u.ID, hc.Timeout)
			}
			if hc.ExpectedStatus < 100 || hc.ExpectedStatus > 599 {
				return fmt.Errorf("upstream %s: healthCheck.expectedStatus must be in 100..599, got %d", u.ID, hc.ExpectedStatus)
			}
			if hc.Mode != "active" && hc.Mode != "passive" && hc.Mode != "hybrid" {
				return fmt.Errorf("upstream %s: healthCheck.mode must be active, passive or hybrid, got %q", u.ID, hc.Mode)
			}
		}
	}

	for _, r := range c.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route path %q must be absolute", r.Path)
		}
		if r.Upstream != "" && !seen[r.Upstream] {
			return fmt.Errorf("route %s %s references unknown upstream %q", r.Method, r.Path, r.Upstream)
		}
	}

	return nil
}
