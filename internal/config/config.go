// Package config loads and validates the gateway configuration document
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CurrentVersion is the config schema version this build writes and
// understands natively. Older majors go through Migrate.
const CurrentVersion = "2.0.0"

// Config is the root configuration document
type Config struct {
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Server      ServerConfig      `json:"server"`
	Routes      []RouteConfig     `json:"routes"`
	Upstreams   []UpstreamConfig  `json:"upstreams"`
	Plugins     []PluginConfig    `json:"plugins"`
	Performance PerformanceConfig `json:"performance"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig configures the inbound HTTP listener
type ServerConfig struct {
	Port             int    `json:"port"`
	Host             string `json:"host"`
	KeepAlive        bool   `json:"keepAlive"`
	KeepAliveTimeout int    `json:"keepAliveTimeout"` // ms, >= 1000
	RequestTimeout   int    `json:"requestTimeout"`   // ms, >= 100
	MaxHeaderSize    int    `json:"maxHeaderSize"`    // bytes, >= 1024
	MaxBodySize      int    `json:"maxBodySize"`      // bytes, >= 1024
}

// RouteConfig declares one route table entry
type RouteConfig struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Upstream string `json:"upstream"`
	Priority int    `json:"priority"`
}

// HealthCheckConfig configures probing for one upstream
type HealthCheckConfig struct {
	Enabled        bool   `json:"enabled"`
	Mode           string `json:"mode"`     // active, passive, hybrid
	Interval       int    `json:"interval"` // ms, >= 1000
	Timeout        int    `json:"timeout"`  // ms, >= 100
	Path           string `json:"path"`
	ExpectedStatus int    `json:"expectedStatus"`
}

// UpstreamConfig declares one backend origin
type UpstreamConfig struct {
	ID             string            `json:"id"`
	Protocol       string            `json:"protocol"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	BasePath       string            `json:"basePath"`
	Weight         int               `json:"weight"`
	PoolSize       int               `json:"poolSize"`
	ConnectTimeout int               `json:"connectTimeout"` // ms
	Timeout        int               `json:"timeout"`        // ms, >= 100
	HealthCheck    HealthCheckConfig `json:"healthCheck"`
}

// PluginConfig declares one plugin instance
type PluginConfig struct {
	Name     string                 `json:"name"`
	Enabled  bool                   `json:"enabled"`
	Settings map[string]interface{} `json:"settings"`
}

// PerformanceConfig sizes the per-worker pools
type PerformanceConfig struct {
	WorkerCount      int  `json:"workerCount"` // 0 = runtime.NumCPU
	ContextPoolSize  int  `json:"contextPoolSize"`
	BufferPoolSize   int  `json:"bufferPoolSize"`
	ResponsePoolSize int  `json:"responsePoolSize"`
	EnablePooling    bool `json:"enablePooling"`
}

// LoggingConfig configures the logrus backend
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or text
}

// Load reads the JSON document at path, migrates older schema versions,
// applies environment overrides and fills defaults. An empty path falls
// back to CONFIG_PATH and then to built-in defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("CONFIG_PATH", "")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		migrated, err := Migrate(data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(migrated, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Version:     CurrentVersion,
		Environment: "development",
		Server: ServerConfig{
			Port:             8080,
			Host:             "0.0.0.0",
			KeepAlive:        true,
			KeepAliveTimeout: 65000,
			RequestTimeout:   30000,
			MaxHeaderSize:    16 * 1024,
			MaxBodySize:      10 * 1024 * 1024,
		},
		Performance: PerformanceConfig{
			WorkerCount:      0,
			ContextPoolSize:  1000,
			BufferPoolSize:   256,
			ResponsePoolSize: 256,
			EnablePooling:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("NODE_ENV", getEnv("GATEWAY_ENV", c.Environment))
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) fillDefaults() {
	for i := range c.Upstreams {
		u := &c.Upstreams[i]
		if u.Protocol == "" {
			u.Protocol = "http"
		}
		if u.Weight <= 0 {
			u.Weight = 1
		}
		if u.PoolSize <= 0 {
			u.PoolSize = 10
		}
		if u.ConnectTimeout <= 0 {
			u.ConnectTimeout = 5000
		}
		if u.Timeout <= 0 {
			u.Timeout = 30000
		}
		hc := &u.HealthCheck
		if hc.Mode == "" {
			hc.Mode = "active"
		}
		if hc.Interval <= 0 {
			hc.Interval = 10000
		}
		if hc.Timeout <= 0 {
			hc.Timeout = 2000
		}
		if hc.Path == "" {
			hc.Path = "/health"
		}
		if hc.ExpectedStatus == 0 {
			hc.ExpectedStatus = 200
		}
	}
	for i := range c.Routes {
		if c.Routes[i].Method == "" {
			c.Routes[i].Method = "GET"
		}
	}
}

// RequestTimeoutDuration returns the end-to-end request timeout
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Millisecond
}

// KeepAliveTimeoutDuration returns the idle keep-alive timeout
func (c *Config) KeepAliveTimeoutDuration() time.Duration {
	return time.Duration(c.Server.KeepAliveTimeout) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
