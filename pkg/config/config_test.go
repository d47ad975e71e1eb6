package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
	if cfg.Registry.Kind != "memory" {
		t.Errorf("expected memory registry by default, got %q", cfg.Registry.Kind)
	}
	if cfg.Reconcile.AutoCorrect {
		t.Error("expected auto-correct off by default")
	}
	if cfg.Reconcile.Interval.Std() != 5*time.Minute {
		t.Errorf("expected 5m default interval, got %s", cfg.Reconcile.Interval.Std())
	}
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfigFile(t, `
registry:
  kind: hass
  endpoint: ws://homeassistant:8123/api/websocket
  token: llat-secret
  watch_platforms: [mqtt, template]
  command_timeout: 30s

reconcile:
  interval: 1m
  auto_correct: true
  degraded_threshold: 5
  history_limit: 100

cleanup:
  stale_after: 2h
  history_limit: 64

policy:
  enabled: true
  paths: [/etc/warden/policies]
  watch: true

store:
  path: /var/lib/warden/warden.db
  prune_after: 720h

telemetry:
  logging:
    level: debug
    format: json
  metrics:
    enabled: true
    listen_address: ":9091"
  tracing:
    enabled: true
    exporter: otlp
    endpoint: collector:4317
    sampling_rate: 0.5
  events:
    enabled: true
    buffer_size: 500
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Registry.Kind != "hass" || cfg.Registry.Token != "llat-secret" {
		t.Errorf("expected hass registry section, got %+v", cfg.Registry)
	}
	if len(cfg.Registry.WatchPlatforms) != 2 || cfg.Registry.WatchPlatforms[0] != "mqtt" {
		t.Errorf("expected watch platforms, got %v", cfg.Registry.WatchPlatforms)
	}
	if cfg.Registry.CommandTimeout.Std() != 30*time.Second {
		t.Errorf("expected 30s command timeout, got %s", cfg.Registry.CommandTimeout.Std())
	}
	if cfg.Registry.HandshakeTimeout.Std() != 10*time.Second {
		t.Errorf("expected default handshake timeout to survive, got %s", cfg.Registry.HandshakeTimeout.Std())
	}
	if cfg.Reconcile.Interval.Std() != time.Minute || !cfg.Reconcile.AutoCorrect {
		t.Errorf("expected reconcile overrides, got %+v", cfg.Reconcile)
	}
	if cfg.Cleanup.StaleAfter.Std() != 2*time.Hour || cfg.Cleanup.HistoryLimit != 64 {
		t.Errorf("expected cleanup overrides, got %+v", cfg.Cleanup)
	}
	if cfg.Store.PruneAfter.Std() != 720*time.Hour {
		t.Errorf("expected prune_after override, got %s", cfg.Store.PruneAfter.Std())
	}
	if cfg.Telemetry.Tracing.Exporter != "otlp" || cfg.Telemetry.Tracing.SamplingRate != 0.5 {
		t.Errorf("expected tracing overrides, got %+v", cfg.Telemetry.Tracing)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Registry.Kind != "memory" || cfg.Store.Path != "warden.db" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("reconcile:\n  auto_corect: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("reconcile:\n  interval: banana\n"))
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected duration error, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown registry kind", func(c *Config) { c.Registry.Kind = "redis" }},
		{"hass without endpoint", func(c *Config) {
			c.Registry.Kind = "hass"
			c.Registry.Token = "t"
		}},
		{"hass without token", func(c *Config) {
			c.Registry.Kind = "hass"
			c.Registry.Endpoint = "ws://hass:8123/api/websocket"
		}},
		{"hass with http endpoint", func(c *Config) {
			c.Registry.Kind = "hass"
			c.Registry.Endpoint = "http://hass:8123"
			c.Registry.Token = "t"
		}},
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"negative history limit", func(c *Config) { c.Reconcile.HistoryLimit = -1 }},
		{"unknown log level", func(c *Config) { c.Telemetry.Logging.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }},
		{"metrics without address", func(c *Config) { c.Telemetry.Metrics.ListenAddress = "" }},
		{"otlp without endpoint", func(c *Config) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.Exporter = "otlp"
		}},
		{"sampling rate out of range", func(c *Config) { c.Telemetry.Tracing.SamplingRate = 1.5 }},
		{"blank policy path", func(c *Config) { c.Policy.Paths = []string{"  "} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestToTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.Logging.Level = "debug"
	cfg.Telemetry.Logging.Format = "json"
	cfg.Telemetry.Metrics.ListenAddress = ":9100"
	cfg.Telemetry.Tracing.Enabled = true
	cfg.Telemetry.Tracing.Exporter = "stdout"
	cfg.Telemetry.Events.BufferSize = 42

	tc := cfg.ToTelemetry("1.2.3")
	if tc.ServiceName != "entwarden" || tc.ServiceVersion != "1.2.3" {
		t.Errorf("expected service identity, got %s %s", tc.ServiceName, tc.ServiceVersion)
	}
	if tc.Logging.Level != "debug" || tc.Logging.Format != "json" {
		t.Errorf("expected logging overrides, got %+v", tc.Logging)
	}
	if tc.Metrics.ListenAddress != ":9100" {
		t.Errorf("expected metrics address override, got %q", tc.Metrics.ListenAddress)
	}
	if !tc.Tracing.Enabled || tc.Tracing.Exporter != "stdout" {
		t.Errorf("expected tracing overrides, got %+v", tc.Tracing)
	}
	if tc.Events.BufferSize != 42 {
		t.Errorf("expected event buffer override, got %d", tc.Events.BufferSize)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("converted telemetry config must validate, got %v", err)
	}
}

func TestToStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Path = ":memory:"
	cfg.Store.MaxOpenConns = 10

	sc := cfg.ToStore()
	if sc.Path != ":memory:" || sc.MaxOpenConns != 10 {
		t.Errorf("expected store mapping, got %+v", sc)
	}
	if sc.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("expected default lifetime, got %s", sc.ConnMaxLifetime)
	}
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML failed: %v", err)
	}
	if out != "1m30s" {
		t.Errorf("expected 1m30s, got %v", out)
	}
}
