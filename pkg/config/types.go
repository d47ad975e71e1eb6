package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads from YAML as a string like "5m"
// or "1h30m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the warden daemon configuration.
type Config struct {
	// Registry selects and configures the external entity registry.
	Registry RegistryConfig `yaml:"registry"`

	// Reconcile configures the reconciliation loop.
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// Cleanup configures the cleanup engine.
	Cleanup CleanupConfig `yaml:"cleanup"`

	// Policy configures the correction policy gate.
	Policy PolicyConfig `yaml:"policy"`

	// Store configures the sqlite archive.
	Store StoreConfig `yaml:"store"`

	// Telemetry configures logging, metrics, tracing, and events.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RegistryConfig selects the registry implementation.
type RegistryConfig struct {
	// Kind is the registry implementation (memory, hass).
	Kind string `yaml:"kind" validate:"required,oneof=memory hass"`

	// Endpoint is the websocket URL of a hass registry.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Token is the long-lived access token for a hass registry.
	Token string `yaml:"token,omitempty"`

	// WatchPlatforms limits the registry watch feed to these platforms.
	// Empty means every platform is watched.
	WatchPlatforms []string `yaml:"watch_platforms,omitempty"`

	// HandshakeTimeout bounds the dial and auth exchange.
	HandshakeTimeout Duration `yaml:"handshake_timeout,omitempty"`

	// CommandTimeout bounds each registry command round trip.
	CommandTimeout Duration `yaml:"command_timeout,omitempty"`
}

// ReconcileConfig configures the reconciliation loop.
type ReconcileConfig struct {
	// Interval between scheduled cycles.
	Interval Duration `yaml:"interval,omitempty"`

	// AutoCorrect enables automated corrections. Detection always runs.
	AutoCorrect bool `yaml:"auto_correct"`

	// DegradedThreshold is the active inconsistency count at which the
	// health grade degrades.
	DegradedThreshold int `yaml:"degraded_threshold,omitempty" validate:"gte=0"`

	// HistoryLimit bounds resolved inconsistencies kept in memory.
	HistoryLimit int `yaml:"history_limit,omitempty" validate:"gte=0"`
}

// CleanupConfig configures the cleanup engine.
type CleanupConfig struct {
	// StaleAfter is the age at which an in-progress transaction is
	// considered stuck and force-released.
	StaleAfter Duration `yaml:"stale_after,omitempty"`

	// HistoryLimit bounds terminal transactions kept in memory.
	HistoryLimit int `yaml:"history_limit,omitempty" validate:"gte=0"`
}

// PolicyConfig configures the correction policy gate.
type PolicyConfig struct {
	// Enabled turns the policy gate on. With the gate off every
	// correction the loop proposes is applied.
	Enabled bool `yaml:"enabled"`

	// Paths lists directories or files with custom rego policies.
	Paths []string `yaml:"paths,omitempty"`

	// Watch reloads custom policies when their files change.
	Watch bool `yaml:"watch"`
}

// StoreConfig configures the sqlite archive.
type StoreConfig struct {
	// Path is the sqlite database file, or :memory:.
	Path string `yaml:"path" validate:"required"`

	// MaxOpenConns caps open database connections.
	MaxOpenConns int `yaml:"max_open_conns,omitempty" validate:"gte=0"`

	// MaxIdleConns caps idle database connections.
	MaxIdleConns int `yaml:"max_idle_conns,omitempty" validate:"gte=0"`

	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime,omitempty"`

	// PruneAfter drops archived history older than this on daemon
	// startup. Zero disables pruning. Creation records are never pruned.
	PruneAfter Duration `yaml:"prune_after,omitempty"`
}

// TelemetryConfig is the telemetry section of the daemon configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Events  EventsConfig  `yaml:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is console or json.
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=console json"`

	// Output is stdout, stderr, or a file path.
	Output string `yaml:"output,omitempty"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves metrics over HTTP.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics HTTP listen address.
	ListenAddress string `yaml:"listen_address,omitempty"`

	// Path is the metrics HTTP path.
	Path string `yaml:"path,omitempty"`
}

// TracingConfig configures the otel tracer.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp, stdout, or none.
	Exporter string `yaml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate is the trace sampling rate between 0 and 1.
	SamplingRate float64 `yaml:"sampling_rate,omitempty" validate:"gte=0,lte=1"`
}

// EventsConfig configures the lifecycle event bus.
type EventsConfig struct {
	// Enabled turns event publishing on.
	Enabled bool `yaml:"enabled"`

	// BufferSize is the event buffer size.
	BufferSize int `yaml:"buffer_size,omitempty" validate:"gte=0"`
}
