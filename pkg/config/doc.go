// Package config provides YAML configuration loading and validation for
// the entwarden daemon.
//
// # Overview
//
// The config package defines the daemon's configuration surface: which
// registry to manage, how often to reconcile, where the archive lives,
// and how telemetry behaves. Configuration is loaded from a single YAML
// file layered over built-in defaults, then validated before the daemon
// starts.
//
// # Features
//
//   - Single-file YAML configuration with strict key checking
//   - Built-in defaults usable without any file at all
//   - Struct-tag validation plus cross-field checks
//   - Human-friendly durations ("5m", "1h30m") in every time field
//   - Converters into the telemetry and store configurations
//
// # Usage Example
//
//	cfg, err := config.Load("warden.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store, err := stores.NewSQLiteStore(cfg.ToStore())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Configuration Structure
//
// A typical warden configuration:
//
//	registry:
//	  kind: hass
//	  endpoint: ws://homeassistant:8123/api/websocket
//	  token: ${LONG_LIVED_TOKEN}
//	  watch_platforms: [mqtt, template]
//
//	reconcile:
//	  interval: 5m
//	  auto_correct: true
//	  degraded_threshold: 10
//
//	cleanup:
//	  stale_after: 1h
//	  history_limit: 256
//
//	policy:
//	  enabled: true
//	  paths: [/etc/warden/policies]
//	  watch: true
//
//	store:
//	  path: /var/lib/warden/warden.db
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
//	  metrics:
//	    enabled: true
//	    listen_address: ":9090"
//
// # Validation
//
// Load rejects unknown keys, malformed durations, out-of-range values,
// and incomplete sections (a hass registry without an endpoint and token,
// an otlp trace exporter without an endpoint). The `warden validate`
// command runs the same checks without starting the daemon.
//
// # Thread Safety
//
// A loaded Config is read-only; sharing it across goroutines is safe.
package config
