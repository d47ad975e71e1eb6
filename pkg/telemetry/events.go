package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the entwarden system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// TransactionID is the associated cleanup transaction ID, if applicable.
	TransactionID string `json:"transaction_id,omitempty"`

	// CycleID is the associated reconciliation cycle ID, if applicable.
	CycleID string `json:"cycle_id,omitempty"`

	// EntityID is the associated entity ID, if applicable.
	EntityID string `json:"entity_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeCreationLogged     = "ledger.creation_logged"
	EventTypeCleanupMarked      = "ledger.cleanup_marked"
	EventTypeCleanupStarted     = "cleanup.started"
	EventTypeCleanupCommitted   = "cleanup.committed"
	EventTypeCleanupRolledBack  = "cleanup.rolled_back"
	EventTypeEmergencyRollback  = "cleanup.emergency_rollback"
	EventTypeCycleStarted       = "reconcile.cycle_started"
	EventTypeCycleCompleted     = "reconcile.cycle_completed"
	EventTypeInconsistency      = "reconcile.inconsistency_detected"
	EventTypeCorrectionApplied  = "reconcile.correction_applied"
	EventTypeCorrectionDenied   = "reconcile.correction_denied"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishCreationLogged publishes a creation logged event.
func (ep *EventPublisher) PublishCreationLogged(entityID, owner string) error {
	return ep.Publish(Event{
		Type:     EventTypeCreationLogged,
		Source:   "ledger",
		EntityID: entityID,
		Message:  fmt.Sprintf("Creation of %s logged for owner %s", entityID, owner),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"owner": owner,
		},
	})
}

// PublishCleanupMarked publishes a cleanup candidacy event.
func (ep *EventPublisher) PublishCleanupMarked(entityID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeCleanupMarked,
		Source:   "ledger",
		EntityID: entityID,
		Message:  fmt.Sprintf("Entity %s marked for cleanup: %s", entityID, reason),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishCleanupStarted publishes a cleanup transaction started event.
func (ep *EventPublisher) PublishCleanupStarted(txID string, entityCount int, reason string) error {
	return ep.Publish(Event{
		Type:          EventTypeCleanupStarted,
		Source:        "cleanup_engine",
		TransactionID: txID,
		Message:       fmt.Sprintf("Cleanup transaction %s started for %d entities", txID, entityCount),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"entity_count": entityCount,
			"reason":       reason,
		},
	})
}

// PublishCleanupCommitted publishes a committed transaction event.
func (ep *EventPublisher) PublishCleanupCommitted(txID string, successCount int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:          EventTypeCleanupCommitted,
		Source:        "cleanup_engine",
		TransactionID: txID,
		Message:       fmt.Sprintf("Cleanup transaction %s committed: %d entities removed", txID, successCount),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"success_count": successCount,
			"duration":      duration.Seconds(),
		},
	})
}

// PublishCleanupRolledBack publishes a rolled back transaction event.
func (ep *EventPublisher) PublishCleanupRolledBack(txID string, failureCount int, reason string) error {
	return ep.Publish(Event{
		Type:          EventTypeCleanupRolledBack,
		Source:        "cleanup_engine",
		TransactionID: txID,
		Message:       fmt.Sprintf("Cleanup transaction %s rolled back: %s", txID, reason),
		Level:         EventLevelWarning,
		Data: map[string]interface{}{
			"failure_count": failureCount,
			"reason":        reason,
		},
	})
}

// PublishEmergencyRollback publishes an emergency rollback event.
func (ep *EventPublisher) PublishEmergencyRollback(txID, reason string) error {
	return ep.Publish(Event{
		Type:          EventTypeEmergencyRollback,
		Source:        "cleanup_engine",
		TransactionID: txID,
		Message:       fmt.Sprintf("Emergency rollback of transaction %s: %s", txID, reason),
		Level:         EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishCycleStarted publishes a reconciliation cycle started event.
func (ep *EventPublisher) PublishCycleStarted(cycleID, trigger string) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleStarted,
		Source:  "reconcile_loop",
		CycleID: cycleID,
		Message: fmt.Sprintf("Reconciliation cycle %s started (%s)", cycleID, trigger),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"trigger": trigger,
		},
	})
}

// PublishCycleCompleted publishes a reconciliation cycle completed event.
func (ep *EventPublisher) PublishCycleCompleted(cycleID string, inconsistencies int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleCompleted,
		Source:  "reconcile_loop",
		CycleID: cycleID,
		Message: fmt.Sprintf("Reconciliation cycle %s completed: %d inconsistencies", cycleID, inconsistencies),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"inconsistencies": inconsistencies,
			"duration":        duration.Seconds(),
		},
	})
}

// PublishInconsistencyDetected publishes an inconsistency detection event.
func (ep *EventPublisher) PublishInconsistencyDetected(cycleID, entityID, kind, severity string) error {
	level := EventLevelWarning
	if severity == "critical" || severity == "high" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:     EventTypeInconsistency,
		Source:   "reconcile_loop",
		CycleID:  cycleID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Inconsistency on entity %s: %s (%s)", entityID, kind, severity),
		Level:    level,
		Data: map[string]interface{}{
			"kind":     kind,
			"severity": severity,
		},
	})
}

// PublishCorrectionApplied publishes a correction applied event.
func (ep *EventPublisher) PublishCorrectionApplied(cycleID, entityID, method string) error {
	return ep.Publish(Event{
		Type:     EventTypeCorrectionApplied,
		Source:   "reconcile_loop",
		CycleID:  cycleID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Correction applied to entity %s: %s", entityID, method),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"method": method,
		},
	})
}

// PublishCorrectionDenied publishes a correction denied event.
func (ep *EventPublisher) PublishCorrectionDenied(cycleID, entityID, method, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeCorrectionDenied,
		Source:   "reconcile_loop",
		CycleID:  cycleID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Correction %s denied for entity %s: %s", method, entityID, reason),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"method": method,
			"reason": reason,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(entityID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypePolicyViolation,
		Source:   "policy_engine",
		EntityID: entityID,
		Message:  fmt.Sprintf("Policy violation on entity %s: %s - %s", entityID, policyName, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByTransactionID creates a filter that only allows events for a specific transaction.
func FilterByTransactionID(txID string) EventFilter {
	return func(event Event) bool {
		return event.TransactionID == txID
	}
}

// FilterByEntityID creates a filter that only allows events for a specific entity.
func FilterByEntityID(entityID string) EventFilter {
	return func(event Event) bool {
		return event.EntityID == entityID
	}
}
