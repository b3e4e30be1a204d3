// Package config loads the scheduler configuration from a YAML or JSON file.
//
// YAML input is re-encoded as JSON so both formats share one strict decoder
// (unknown fields are rejected). Durations are Go duration strings ("30s",
// "1m") validated at load time.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	// Listen is the HTTP API bind address.
	Listen string `json:"listen,omitempty"`

	Storage  StorageConfig  `json:"storage"`
	Uploads  UploadsConfig  `json:"uploads,omitempty"`
	Gateway  GatewayConfig  `json:"gateway"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type UploadsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// GatewayConfig points at the signal-cli REST API.
type GatewayConfig struct {
	URL     string `json:"url"`
	Number  string `json:"number"`
	Timeout string `json:"timeout,omitempty"` // per-delivery HTTP timeout
}

// DispatchConfig controls the delivery tick.
//
// Cron is a standard 5-field cron spec evaluated in UTC. RatePerSec, when
// positive, caps outbound gateway sends within a tick.
type DispatchConfig struct {
	Cron       string `json:"cron,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Load reads, decodes, defaults and validates the config at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(path, data)
}

// Parse decodes raw config bytes. The path picks the format (by extension)
// and names the file in errors.
func Parse(path string, data []byte) (Config, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		j, err := yamlToJSON(data)
		if err != nil {
			return Config{}, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
		data = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so the strict JSON decoder
// (DisallowUnknownFields) serves both config formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(stringifyKeys(v))
}

// stringifyKeys rewrites the map[any]any nodes yaml/v3 emits for non-string
// keys; everything else it produces is already JSON-marshalable.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			x[k] = stringifyKeys(child)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, child := range x {
			m[fmt.Sprint(k)] = stringifyKeys(child)
		}
		return m
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return v
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = ":3000"
	}
	if strings.TrimSpace(c.Uploads.Dir) == "" {
		c.Uploads.Dir = "./uploads"
	}
	if strings.TrimSpace(c.Gateway.URL) == "" {
		c.Gateway.URL = "http://localhost:8080"
	}
	if strings.TrimSpace(c.Dispatch.Cron) == "" {
		c.Dispatch.Cron = "* * * * *"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if strings.TrimSpace(c.Gateway.Number) == "" {
		return fmt.Errorf("gateway.number is required")
	}
	if _, err := parseDuration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("gateway.timeout", c.Gateway.Timeout); err != nil {
		return err
	}
	if c.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	return nil
}

// parseDuration parses an optional Go duration string; empty means zero.
// Errors name the config field.
func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: bad duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}

// BusyTimeoutDuration returns the parsed busy timeout; zero means the SQLite
// default. Only valid on a loaded (validated) config.
func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := parseDuration("storage.busy_timeout", s.BusyTimeout)
	return d
}

// TimeoutDuration returns the parsed gateway timeout, defaulting to 30s.
func (g GatewayConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration("gateway.timeout", g.Timeout)
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
