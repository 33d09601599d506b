package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Migrate upgrades an older config document to the current schema. Version
// 1.x documents named the request timeout "timeoutMs" on the server block,
// gave each upstream a single "url" field and had no performance section;
// all three are rewritten in place. Documents more than one major behind
// are rejected.
func Migrate(data []byte) ([]byte, error) {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("config version probe: %w", err)
	}
	if probe.Version == "" {
		probe.Version = "1.0.0"
	}

	major, err := majorOf(probe.Version)
	if err != nil {
		return nil, err
	}
	currentMajor, _ := majorOf(CurrentVersion)

	switch {
	case major == currentMajor:
		return data, nil
	case major == currentMajor-1:
		return migrateV1(data)
	default:
		return nil, fmt.Errorf("config version %s is not migratable to %s", probe.Version, CurrentVersion)
	}
}

func migrateV1(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	doc["version"] = CurrentVersion

	// v1 named the request timeout "timeoutMs" on the server block
	if server, ok := doc["server"].(map[string]interface{}); ok {
		if v, ok := server["timeoutMs"]; ok {
			server["requestTimeout"] = v
			delete(server, "timeoutMs")
		}
	}

	// v1 upstreams carried a "url" field instead of protocol/host/port
	if upstreams, ok := doc["upstreams"].([]interface{}); ok {
		for _, raw := range upstreams {
			u, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if url, ok := u["url"].(string); ok {
				protocol, host, port := splitURL(url)
				u["protocol"] = protocol
				u["host"] = host
				u["port"] = port
				delete(u, "url")
			}
		}
	}

	if _, ok := doc["performance"]; !ok {
		doc["performance"] = map[string]interface{}{
			"workerCount":      0,
			"contextPoolSize":  1000,
			"bufferPoolSize":   256,
			"responsePoolSize": 256,
			"enablePooling":    true,
		}
	}

	logrus.WithField("to", CurrentVersion).Info("Migrated legacy configuration document")
	return json.Marshal(doc)
}

func majorOf(version string) (int, error) {
	parts := strings.SplitN(version, ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid config version %q", version)
	}
	return major, nil
}

func splitURL(url string) (protocol, host string, port int) {
	protocol = "http"
	port = 80
	rest := url
	if strings.HasPrefix(url, "https://") {
		protocol = "https"
		port = 443
		rest = strings.TrimPrefix(url, "https://")
	} else {
		rest = strings.TrimPrefix(rest, "http://")
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	host = rest
	if i := strings.LastIndexByte(rest, ':'); i >= 0 {
		host = rest[:i]
		if p, err := strconv.Atoi(rest[i+1:]); err == nil {
			port = p
		}
	}
	return protocol, host, port
}
