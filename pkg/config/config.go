package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/entwarden/entwarden/pkg/stores"
	"github.com/entwarden/entwarden/pkg/telemetry"
)

var validate = validator.New()

// DefaultConfig returns the configuration the daemon runs with when no
// file overrides it: in-memory registry, detection without corrections,
// archive in the working directory.
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			Kind:             "memory",
			HandshakeTimeout: Duration(10 * time.Second),
			CommandTimeout:   Duration(15 * time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval:          Duration(5 * time.Minute),
			AutoCorrect:       false,
			DegradedThreshold: 10,
			HistoryLimit:      512,
		},
		Cleanup: CleanupConfig{
			StaleAfter:   Duration(time.Hour),
			HistoryLimit: 256,
		},
		Policy: PolicyConfig{
			Enabled: true,
			Watch:   false,
		},
		Store: StoreConfig{
			Path:            "warden.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(5 * time.Minute),
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stderr",
			},
			Metrics: MetricsConfig{
				Enabled:       true,
				ListenAddress: ":9090",
				Path:          "/metrics",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				Exporter:     "stdout",
				SamplingRate: 1.0,
			},
			Events: EventsConfig{
				Enabled:    true,
				BufferSize: 1000,
			},
		},
	}
}

// Load reads the YAML file at path, layers it over the defaults, and
// validates the result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints and the cross-field requirements
// the struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Registry.Kind == "hass" {
		if c.Registry.Endpoint == "" {
			return fmt.Errorf("registry.endpoint is required when registry.kind is hass")
		}
		if !strings.HasPrefix(c.Registry.Endpoint, "ws://") && !strings.HasPrefix(c.Registry.Endpoint, "wss://") {
			return fmt.Errorf("registry.endpoint must be a ws:// or wss:// URL")
		}
		if c.Registry.Token == "" {
			return fmt.Errorf("registry.token is required when registry.kind is hass")
		}
	}

	for _, p := range c.Policy.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("policy.paths entries must not be empty")
		}
	}

	if c.Telemetry.Metrics.Enabled && c.Telemetry.Metrics.ListenAddress == "" {
		return fmt.Errorf("telemetry.metrics.listen_address is required when metrics are enabled")
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Exporter == "otlp" && c.Telemetry.Tracing.Endpoint == "" {
		return fmt.Errorf("telemetry.tracing.endpoint is required for the otlp exporter")
	}

	return nil
}

// ToTelemetry maps the telemetry section onto the telemetry package
// configuration, keeping that package's defaults for the knobs the file
// does not expose.
func (c *Config) ToTelemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}

	if c.Telemetry.Logging.Level != "" {
		tc.Logging.Level = c.Telemetry.Logging.Level
	}
	if c.Telemetry.Logging.Format != "" {
		tc.Logging.Format = c.Telemetry.Logging.Format
	}
	if c.Telemetry.Logging.Output != "" {
		tc.Logging.Output = c.Telemetry.Logging.Output
	}

	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	if c.Telemetry.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Telemetry.Metrics.ListenAddress
	}
	if c.Telemetry.Metrics.Path != "" {
		tc.Metrics.Path = c.Telemetry.Metrics.Path
	}

	tc.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	if c.Telemetry.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	}
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	if c.Telemetry.Tracing.SamplingRate > 0 {
		tc.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	}

	tc.Events.Enabled = c.Telemetry.Events.Enabled
	if c.Telemetry.Events.BufferSize > 0 {
		tc.Events.BufferSize = c.Telemetry.Events.BufferSize
	}

	return tc
}

// ToStore maps the store section onto the sqlite store configuration.
func (c *Config) ToStore() stores.Config {
	return stores.Config{
		Path:            c.Store.Path,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime.Std(),
	}
}
