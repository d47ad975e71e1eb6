package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/entwarden/entwarden/pkg/config"
	"github.com/entwarden/entwarden/pkg/registry"
	"github.com/entwarden/entwarden/pkg/registry/hass"
	"github.com/entwarden/entwarden/pkg/stores"
)

// loadConfig reads the file named by --config, or returns the built-in
// defaults when the flag was not given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// openStore opens the sqlite archive and brings its schema up to date.
// The caller owns the returned store and must close it.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(cfg.ToStore())
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return store, nil
}

// connectRegistry builds the registry store the config names. The returned
// closer is a no-op for the in-memory store.
func connectRegistry(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (registry.Store, func(), error) {
	switch cfg.Registry.Kind {
	case "hass":
		client, err := hass.Dial(ctx, hass.Config{
			Endpoint:         cfg.Registry.Endpoint,
			Token:            cfg.Registry.Token,
			HandshakeTimeout: cfg.Registry.HandshakeTimeout.Std(),
			CommandTimeout:   cfg.Registry.CommandTimeout.Std(),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to registry: %w", err)
		}
		return client, func() { _ = client.Close() }, nil
	case "memory":
		return registry.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry kind: %s", cfg.Registry.Kind)
	}
}

// openConfiguredStore loads the config and opens the archive, for commands
// that need nothing else.
func openConfiguredStore(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(ctx, cfg)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
