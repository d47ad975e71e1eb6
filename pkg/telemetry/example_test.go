package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/entwarden/entwarden/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "entwarden"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Warden started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("cleanup_engine")

	// Add context fields
	logger = logger.WithFields(map[string]interface{}{
		"transaction_id": "tx-123",
		"entity_id":      "light.porch",
	})

	// Log at different levels
	logger.Debug("Validating cleanup candidates")
	logger.Info("Entity removed from registry")
	logger.Warn("Entity reappeared after removal")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Failed to reach external registry")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "cleanup.transaction")
	defer span.End()

	// Add attributes
	span.SetAttributes(
		attribute.String("transaction.id", "tx-789"),
		attribute.Int("transaction.entity_count", 5),
	)

	// Add event
	span.AddEvent("validation.complete")

	// Nested span
	ctx, childSpan := tel.Tracer.Start(ctx, "cleanup.execute")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("entity.id", "light.porch"),
		attribute.String("operation", "remove"),
	)

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record ledger metrics
	tel.Metrics.RecordCreationLogged("hue_bridge")
	tel.Metrics.SetLedgerRecords(42)
	tel.Metrics.SetCleanupCandidates(3)

	// Simulate a cleanup transaction
	tel.Metrics.RecordTransactionStarted()
	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordTransactionCompleted("committed", duration)
	tel.Metrics.RecordEntityRemoval("success")

	// Record reconciliation metrics
	tel.Metrics.RecordCycleCompleted("scheduled", 25*time.Millisecond)
	tel.Metrics.RecordInconsistency("orphaned", "medium")
	tel.Metrics.RecordCorrection("auto_removal", "success")

	// Record registry metrics
	tel.Metrics.RecordRegistryCall("hass", "remove", 15*time.Millisecond)

	// Record error metrics
	tel.Metrics.RecordError("transient", "TIMEOUT")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish events
	tel.Events.PublishCleanupStarted("tx-123", 2, "integration removed")
	tel.Events.PublishCleanupCommitted("tx-123", 2, 25*time.Millisecond)
	tel.Events.PublishCycleCompleted("cycle-7", 0, 50*time.Millisecond)

	// Output varies due to async nature, no output specified
}

// Example_cycleInstrumentation demonstrates instrumenting a reconciliation cycle.
func Example_cycleInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr" // keep stdout for the example output
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start cycle context
	cycleID := "cycle-123"
	trigger := "scheduled"
	ctx = telemetry.WithCycleContext(ctx, cycleID, trigger)

	// Execute cycle (simulated)
	logger := telemetry.FromContext(ctx)
	logger.Info("Comparing ledger against external registry")
	time.Sleep(10 * time.Millisecond)

	// End cycle context
	telemetry.EndCycleContext(ctx, cycleID, trigger, 0, nil)

	fmt.Println("Cycle instrumentation complete")
	// Output: Cycle instrumentation complete
}

// Example_registryInstrumentation demonstrates instrumenting registry calls.
func Example_registryInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr" // keep stdout for the example output
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Record registry operation
	err := telemetry.RecordRegistryOperation(ctx, "hass", "remove", func() error {
		// Simulate registry work
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Registry operation completed successfully")
	}

	// Output: Registry operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr" // keep stdout for the example output
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start instrumented operation
	ic := telemetry.StartOperation(ctx, "ledger.restore",
		attribute.String("store.path", "/var/lib/entwarden/warden.db"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Restoring ledger from archive")

	// Simulate restore
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Ledger restore complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only inconsistency events)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Inconsistency: %s\n", event.Message)
	}, telemetry.FilterByType(telemetry.EventTypeInconsistency))

	// Publish various events
	tel.Events.PublishCreationLogged("sensor.hall", "local")                          // Info - filtered by level filter
	tel.Events.PublishInconsistencyDetected("cycle-1", "sensor.ghost", "zombie", "high") // Error - passes level filter
	tel.Events.PublishEmergencyRollback("tx-5", "transport failure")                  // Error - passes level filter

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "entwarden"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "entwarden"

	// Configure events
	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_errorRecording demonstrates error recording with proper classification.
func Example_errorRecording() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr" // keep stdout for the example output
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "registry.remove")
	defer span.End()

	// Simulate an error
	err := fmt.Errorf("connection timeout")

	if err != nil {
		// Record error on span
		telemetry.RecordError(span, err)

		// Record error metric with classification
		tel.Metrics.RecordError("transient", "TIMEOUT")

		// Log error
		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("Removal failed")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr" // keep stdout for the example output
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	ledgerLogger := tel.Logger.NewComponentLogger("ledger")
	cleanupLogger := tel.Logger.NewComponentLogger("cleanup_engine")
	reconcileLogger := tel.Logger.NewComponentLogger("reconcile_loop")

	ledgerLogger.Info("Ledger restored")
	cleanupLogger.Info("Cleanup engine ready")
	reconcileLogger.Info("Reconciliation loop started")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
