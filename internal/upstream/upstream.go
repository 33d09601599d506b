// Package upstream models backend origins and the pooled connections the
// dispatcher forwards over.
package upstream

import (
	"fmt"
	"sync/atomic"
	"time"

	"go-apigateway/internal/config"
)

// Upstream is one backend origin plus its derived runtime state. Health is
// mutated only by the health checker and active connection counts only by
// the connection pool.
type Upstream struct {
	ID             string
	Protocol       string
	Host           string
	Port           int
	BasePath       string
	Weight         int
	PoolSize       int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	HealthCheck    config.HealthCheckConfig

	healthy     atomic.Bool
	activeConns atomic.Int64
}

// FromConfig builds an Upstream from its config block. Upstreams start
// healthy; the health checker takes over once probing begins.
func FromConfig(cfg config.UpstreamConfig) *Upstream {
	u := &Upstream{
		ID:             cfg.ID,
		Protocol:       cfg.Protocol,
		Host:           cfg.Host,
		Port:           cfg.Port,
		BasePath:       cfg.BasePath,
		Weight:         cfg.Weight,
		PoolSize:       cfg.PoolSize,
		ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.Timeout) * time.Millisecond,
		HealthCheck:    cfg.HealthCheck,
	}
	u.healthy.Store(true)
	return u
}

// Address returns host:port
func (u *Upstream) Address() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// BaseURL returns protocol://host:port/basePath
func (u *Upstream) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d%s", u.Protocol, u.Host, u.Port, u.BasePath)
}

// PoolKey identifies the connection pool bucket for this origin
func (u *Upstream) PoolKey() string {
	return fmt.Sprintf("%s://%s:%d", u.Protocol, u.Host, u.Port)
}

// Healthy reports the health checker's current verdict
func (u *Upstream) Healthy() bool {
	return u.healthy.Load()
}

// SetHealthy records a health flip. Only the health checker calls this.
func (u *Upstream) SetHealthy(healthy bool) {
	u.healthy.Store(healthy)
}

// ActiveConnections reports connections currently checked out
func (u *Upstream) ActiveConnections() int64 {
	return u.activeConns.Load()
}

func (u *Upstream) addActive(delta int64) {
	if u.activeConns.Add(delta) < 0 {
		u.activeConns.Store(0)
	}
}
