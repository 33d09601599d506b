package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.KeepAlive)
	assert.Equal(t, 65000, cfg.Server.KeepAliveTimeout)
	assert.Equal(t, 1000, cfg.Performance.ContextPoolSize)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	os.Clearenv()
	os.Setenv("PORT", "9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NODE_ENV", "production")
	defer os.Clearenv()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoadDocument(t *testing.T) {
	os.Clearenv()
	path := writeConfig(t, `{
		"version": "2.0.0",
		"environment": "staging",
		"server": {"port": 8888, "host": "0.0.0.0", "keepAlive": true,
		           "keepAliveTimeout": 65000, "requestTimeout": 5000,
		           "maxHeaderSize": 8192, "maxBodySize": 1048576},
		"upstreams": [{
			"id": "api-v1", "protocol": "http", "host": "10.0.0.1", "port": 8080,
			"poolSize": 8, "timeout": 2000,
			"healthCheck": {"enabled": true, "interval": 5000, "timeout": 500,
			                "path": "/health", "expectedStatus": 200}
		}],
		"routes": [{"method": "GET", "path": "/api/v1/*", "upstream": "api-v1"}],
		"performance": {"contextPoolSize": 500, "bufferPoolSize": 64,
		                "responsePoolSize": 64, "enablePooling": true}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 8888, cfg.Server.Port)
	require.Len(t, cfg.Upstreams, 1)
	assert.Equal(t, "api-v1", cfg.Upstreams[0].ID)
	assert.Equal(t, 1, cfg.Upstreams[0].Weight) // default filled
	assert.Equal(t, "active", cfg.Upstreams[0].HealthCheck.Mode)
	assert.Equal(t, 500, cfg.Performance.ContextPoolSize)
}

func TestValidationRejectsBadValues(t *testing.T) {
	os.Clearenv()

	cases := []struct {
		name string
		body string
	}{
		{"bad port", `{"version":"2.0.0","environment":"development","server":{"port":70000,"keepAliveTimeout":65000,"requestTimeout":5000,"maxHeaderSize":8192,"maxBodySize":1048576}}`},
		{"bad environment", `{"version":"2.0.0","environment":"qa","server":{"port":8080,"keepAliveTimeout":65000,"requestTimeout":5000,"maxHeaderSize":8192,"maxBodySize":1048576}}`},
		{"short keepalive", `{"version":"2.0.0","environment":"development","server":{"port":8080,"keepAliveTimeout":10,"requestTimeout":5000,"maxHeaderSize":8192,"maxBodySize":1048576}}`},
		{"bad upstream id", `{"version":"2.0.0","environment":"development","server":{"port":8080,"keepAliveTimeout":65000,"requestTimeout":5000,"maxHeaderSize":8192,"maxBodySize":1048576},"upstreams":[{"id":"bad id!","protocol":"http","host":"h","port":80,"poolSize":1,"timeout":1000}]}`},
		{"unknown route upstream", `{"version":"2.0.0","environment":"development","server":{"port":8080,"keepAliveTimeout":65000,"requestTimeout":5000,"maxHeaderSize":8192,"maxBodySize":1048576},"routes":[{"method":"GET","path":"/x","upstream":"ghost"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestMigrateV1Document(t *testing.T) {
	os.Clearenv()
	path := writeConfig(t, `{
		"version": "1.2.0",
		"environment": "production",
		"server": {"port": 8080, "timeoutMs": 4000, "keepAliveTimeout": 65000,
		           "maxHeaderSize": 8192, "maxBodySize": 1048576},
		"upstreams": [{
			"id": "legacy", "url": "https://legacy.internal:8443",
			"poolSize": 4, "timeout": 2000
		}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, 4000, cfg.Server.RequestTimeout)
	require.Len(t, cfg.Upstreams, 1)
	assert.Equal(t, "https", cfg.Upstreams[0].Protocol)
	assert.Equal(t, "legacy.internal", cfg.Upstreams[0].Host)
	assert.Equal(t, 8443, cfg.Upstreams[0].Port)
}

func TestMigrateRejectsAncientVersions(t *testing.T) {
	_, err := Migrate([]byte(`{"version": "0.9.0"}`))
	assert.Error(t, err)
}

func TestMigrateCurrentIsIdentity(t *testing.T) {
	doc := []byte(`{"version": "2.0.0"}`)
	out, err := Migrate(doc)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}
