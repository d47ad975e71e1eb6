// Package telemetry provides comprehensive observability instrumentation for entwarden.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging warden operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "entwarden"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("cleanup_engine")
//	logger = logger.WithTransactionID("tx-123").WithEntityID("light.porch")
//	logger.Info("Starting cleanup transaction")
//	logger.WithError(err).Error("Removal failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into request flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("entity.id", entityID),
//	    attribute.String("operation", "remove"),
//	)
//
//	// Record events
//	span.AddEvent("validation.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record ledger activity
//	tel.Metrics.RecordCreationLogged("hue_bridge")
//	tel.Metrics.SetLedgerRecords(float64(led.Len()))
//
//	// Record cleanup transactions
//	tel.Metrics.RecordTransactionStarted()
//	tel.Metrics.RecordTransactionCompleted("committed", duration)
//
//	// Record reconciliation cycles
//	tel.Metrics.RecordCycleCompleted("scheduled", duration)
//	tel.Metrics.RecordInconsistency("orphaned", "medium")
//
//	// Record errors
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishCleanupStarted(txID, entityCount, reason)
//	tel.Events.PublishCycleCompleted(cycleID, inconsistencies, duration)
//	tel.Events.PublishInconsistencyDetected(cycleID, entityID, kind, severity)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByTransactionID, FilterByEntityID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "cleanup.execute",
//	    attribute.String("transaction.id", txID))
//	defer ic.End(err)
//
//	ic.Logger.Info("Executing cleanup")
//
//	// Cycle context
//	ctx = telemetry.WithCycleContext(ctx, cycleID, trigger)
//	defer telemetry.EndCycleContext(ctx, cycleID, trigger, inconsistencies, err)
//
//	// Registry operation
//	err := telemetry.RecordRegistryOperation(ctx, "hass", "remove", func() error {
//	    return store.Remove(ctx, entityID)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "entwarden",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Performance Considerations
//
// The telemetry system is designed for minimal overhead:
//
//  - Structured logging uses zerolog's zero-allocation approach
//  - Tracing uses sampling to reduce data volume in production
//  - Metrics use Prometheus's efficient storage format
//  - Events are buffered and batched to reduce I/O
//  - All operations are non-blocking when possible
//
// Typical overhead: <1% CPU, <10MB memory for moderate workloads
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//  - All buffered events are published
//  - All pending traces are exported
//  - Metrics are finalized
//
// # Integration with the Warden
//
// The warden components automatically integrate with telemetry when available:
//
//  1. Creation ledger: Creation and candidacy events with owner metrics
//  2. Cleanup engine: Per-transaction tracing, phase spans, outcome metrics
//  3. Reconciliation loop: Cycle-level tracing, inconsistency and correction metrics
//  4. Registry adapters: Call tracking and error classification
//  5. Policy engine: Policy violation events
//
// # Exporters
//
// Tracing supports multiple exporters:
//
//  - "stdout": Print traces to stdout (development)
//  - "otlp": Export via OTLP/gRPC (production, works with collectors)
//  - "none": Generate traces but don't export (testing)
//
// Configure via TracingConfig.Exporter and TracingConfig.Endpoint
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - entwarden_creations_logged_total{owner}
//  - entwarden_ledger_records
//  - entwarden_cleanup_candidates
//  - entwarden_cleanup_transactions_total{status}
//  - entwarden_cleanup_transaction_duration_seconds{status}
//  - entwarden_entity_removals_total{outcome}
//  - entwarden_reconcile_cycles_total{trigger}
//  - entwarden_inconsistencies_detected_total{kind,severity}
//  - entwarden_corrections_total{method,outcome}
//  - entwarden_registry_calls_total{store,operation}
//  - entwarden_errors_by_class_total{class}
//  - entwarden_active_transactions
//
// # Best Practices
//
//  1. Always use context to propagate telemetry
//  2. Use component-specific loggers for clarity
//  3. Add meaningful attributes to spans
//  4. Record both success and failure metrics
//  5. Use appropriate log levels
//  6. Filter events to avoid overwhelming subscribers
//  7. Monitor telemetry overhead in production
//  8. Configure sampling for high-volume systems
//  9. Always call defer span.End() after starting a span
//  10. Shut down gracefully to avoid data loss
//
// # Security Considerations
//
//  - Never log sensitive data (credentials, keys, tokens)
//  - Sanitize entity IDs if they contain PII
//  - Use secure connections (TLS) for trace exporters in production
//  - Limit metrics endpoint access via network policies
//  - Consider event data before adding to audit logs
//
package telemetry
