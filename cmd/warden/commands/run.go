package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/entwarden/entwarden/pkg/cleanup"
	"github.com/entwarden/entwarden/pkg/config"
	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/policy"
	"github.com/entwarden/entwarden/pkg/reconcile"
	"github.com/entwarden/entwarden/pkg/registry"
	"github.com/entwarden/entwarden/pkg/registry/hass"
	"github.com/entwarden/entwarden/pkg/stores"
	"github.com/entwarden/entwarden/pkg/telemetry"
)

// maintenanceInterval paces stale transaction release and the periodic
// ledger sync into the archive.
const maintenanceInterval = time.Minute

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the warden daemon",
		Long: `Run the reconciliation daemon.

The daemon restores the creation ledger from the archive, connects to the
configured entity registry, and reconciles on the configured interval until
interrupted. With a Home Assistant registry and watch_platforms configured
it also subscribes to entity registry events and adopts creations from the
watched platforms into the ledger.`,
		Example: `  # Run with built-in defaults (in-memory registry, ./warden.db)
  warden run

  # Run against a Home Assistant registry
  warden run --config /etc/warden/warden.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	return cmd
}

func runDaemon(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(cfg.ToTelemetry(buildVersion))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown incomplete")
		}
	}()

	if err := tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if prune := cfg.Store.PruneAfter.Std(); prune > 0 {
		pruned, err := store.PruneHistory(ctx, time.Now().Add(-prune))
		if err != nil {
			logger.Warn().Err(err).Msg("history pruning failed")
		} else if pruned > 0 {
			logger.Info().Int64("rows", pruned).Msg("pruned archived history")
		}
	}

	archive := stores.NewArchive(store, logger)
	led, err := archive.RestoreLedger(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}
	tel.Metrics.SetLedgerRecords(float64(led.Len()))

	reg, closeRegistry, err := connectRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	gate, stopWatch, err := buildGate(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if stopWatch != nil {
		defer stopWatch()
	}

	engine := cleanup.NewEngine(led, reg, logger, cleanup.Options{
		Metrics:      tel.Metrics,
		Events:       tel.Events,
		History:      archive,
		HistoryLimit: cfg.Cleanup.HistoryLimit,
		StaleAfter:   cfg.Cleanup.StaleAfter.Std(),
	})

	loop := reconcile.NewLoop(led, reg, engine, logger, reconcile.Options{
		Interval:          cfg.Reconcile.Interval.Std(),
		AutoCorrect:       cfg.Reconcile.AutoCorrect,
		HistoryLimit:      cfg.Reconcile.HistoryLimit,
		DegradedThreshold: cfg.Reconcile.DegradedThreshold,
		Gate:              gate,
		Metrics:           tel.Metrics,
		Events:            tel.Events,
		Archiver:          archive,
	})
	loop.Start(ctx)

	if watcher, ok := reg.(registryWatcher); ok && len(cfg.Registry.WatchPlatforms) > 0 {
		events, err := watcher.WatchRegistry(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("registry watch unavailable, creations must be logged through the API")
		} else {
			go adoptCreations(ctx, led, reg, events, cfg.Registry.WatchPlatforms, tel, logger)
		}
	}

	go maintain(ctx, led, engine, archive, logger)

	logger.Info().
		Str("registry", cfg.Registry.Kind).
		Str("store", cfg.Store.Path).
		Dur("interval", cfg.Reconcile.Interval.Std()).
		Bool("auto_correct", cfg.Reconcile.AutoCorrect).
		Msg("warden started")

	<-ctx.Done()

	logger.Info().Msg("stopping reconciliation loop")
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := loop.Stop(stopCtx); err != nil {
		logger.Warn().Err(err).Msg("reconciliation loop did not stop in time")
	}

	// Final ledger sync so a restart picks up the latest lifecycle flags.
	syncCtx, cancelSync := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSync()
	if err := archive.PersistLedgerRecords(syncCtx, led.Records()); err != nil {
		logger.Warn().Err(err).Msg("final ledger sync failed")
	}

	logger.Info().Msg("warden stopped")
	return nil
}

// buildGate assembles the correction gate, optionally watching the policy
// paths for changes. A nil gate means corrections run ungated.
func buildGate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (reconcile.CorrectionGate, func(), error) {
	if !cfg.Policy.Enabled {
		return nil, nil, nil
	}

	eng, err := policy.NewEngine(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, nil, err
		}
	}

	if !cfg.Policy.Watch || len(cfg.Policy.Paths) == 0 {
		return eng, nil, nil
	}

	loader := policy.NewLoader(logger)
	reload := func([]policy.Policy) error {
		if err := eng.ReloadPolicies(ctx); err != nil {
			return err
		}
		return eng.LoadPolicies(ctx, cfg.Policy.Paths)
	}
	if err := loader.Watch(ctx, cfg.Policy.Paths, reload); err != nil {
		logger.Warn().Err(err).Msg("policy watch unavailable")
		return eng, nil, nil
	}
	return eng, func() { _ = loader.StopWatching() }, nil
}

// registryWatcher is the optional event surface a registry adapter exposes.
type registryWatcher interface {
	WatchRegistry(ctx context.Context) (<-chan hass.Event, error)
}

// adoptCreations consumes registry update events and logs creations from
// watched platforms, so entities born outside this process still get ledger
// records. A dropped or missed event is recovered by the next cycle's orphan
// detection.
func adoptCreations(ctx context.Context, led *ledger.Ledger, reg registry.Store, events <-chan hass.Event, platforms []string, tel *telemetry.Telemetry, logger zerolog.Logger) {
	watched := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		watched[p] = true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				logger.Warn().Msg("registry event stream closed")
				return
			}
			if ev.Action != "create" {
				continue
			}
			entity, err := reg.Get(ctx, ev.EntityID)
			if err != nil {
				logger.Warn().Err(err).Str("entity_id", ev.EntityID).Msg("failed to read created entity")
				continue
			}
			if entity == nil || !watched[entity.Platform] {
				continue
			}

			deviceID, _ := entity.Attributes["device_id"].(string)
			recordID := led.LogCreation(entity.ID, entity.Platform, deviceID, entityKind(entity.ID), map[string]interface{}{
				"source": "registry_watch",
			})
			tel.Metrics.RecordCreationLogged(entity.Platform)
			tel.Metrics.SetLedgerRecords(float64(led.Len()))
			_ = tel.Events.PublishCreationLogged(entity.ID, entity.Platform)
			logger.Info().
				Str("entity_id", entity.ID).
				Str("record_id", recordID).
				Str("platform", entity.Platform).
				Msg("adopted entity creation from registry watch")
		}
	}
}

// entityKind extracts the domain from an entity ID, "light.porch" -> "light".
func entityKind(entityID string) string {
	if i := strings.Index(entityID, "."); i > 0 {
		return entityID[:i]
	}
	return ""
}

// maintain releases stale cleanup transactions and syncs ledger flag changes
// into the archive. Upserts keyed by record ID make the sync idempotent.
func maintain(ctx context.Context, led *ledger.Ledger, engine *cleanup.Engine, archive *stores.Archive, logger zerolog.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if released := engine.ReleaseStaleTransactions(ctx); released > 0 {
				logger.Warn().Int("released", released).Msg("released stale cleanup transactions")
			}
			if err := archive.PersistLedgerRecords(ctx, led.Records()); err != nil {
				logger.Warn().Err(err).Msg("ledger sync failed")
			}
		}
	}
}
