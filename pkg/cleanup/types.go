package cleanup

import (
	"context"
	"time"

	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/registry"
)

// Transaction is the record of one atomic cleanup attempt. It carries the
// snapshot taken before execution and the tagged result of every phase, so
// a rolled back transaction can be audited after the fact.
type Transaction struct {
	// ID is the unique transaction identifier.
	ID string `json:"id"`

	// EntityIDs are the deduplicated targets of this transaction.
	EntityIDs []string `json:"entity_ids"`

	// Reason is why the cleanup was requested.
	Reason string `json:"reason,omitempty"`

	// Status is the current transaction status.
	Status TransactionStatus `json:"status"`

	// StartedAt is when the transaction was created.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the transaction reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Phases holds the tagged result of each executed phase, in order.
	Phases []PhaseResult `json:"phases"`

	// Snapshot is the registry state of every target captured before
	// execution. A nil entry means the entity was already absent.
	Snapshot map[string]*registry.Entity `json:"snapshot,omitempty"`

	// SuccessfulRemovals lists entities whose removal was verified.
	SuccessfulRemovals []string `json:"successful_removals,omitempty"`

	// FailedRemovals lists entities whose removal failed or did not take.
	FailedRemovals []RemovalFailure `json:"failed_removals,omitempty"`

	// Error describes what aborted the transaction, if anything did.
	Error string `json:"error,omitempty"`
}

// PhaseResult is the tagged outcome of a single phase.
type PhaseResult struct {
	// Phase identifies which phase ran.
	Phase Phase `json:"phase"`

	// OK reports whether the phase completed without failures.
	OK bool `json:"ok"`

	// Detail is a short human-readable summary of what the phase did.
	Detail string `json:"detail,omitempty"`

	// Error carries the failure description when OK is false.
	Error string `json:"error,omitempty"`

	// CompletedAt is when the phase finished.
	CompletedAt time.Time `json:"completed_at"`
}

// RemovalFailure describes one entity the transaction could not remove.
type RemovalFailure struct {
	// EntityID is the entity that failed.
	EntityID string `json:"entity_id"`

	// Reason describes why the removal failed.
	Reason string `json:"reason"`
}

// Result is the caller-facing outcome of a cleanup request.
type Result struct {
	// Status summarizes how the request ended.
	Status ResultStatus `json:"status"`

	// TransactionID identifies the transaction, empty when validation
	// rejected the request before a transaction was created.
	TransactionID string `json:"transaction_id,omitempty"`

	// SuccessCount is the number of verified removals.
	SuccessCount int `json:"success_count"`

	// FailureCount is the number of failed removals.
	FailureCount int `json:"failure_count"`

	// SuccessfulRemovals lists entities whose removal was verified.
	SuccessfulRemovals []string `json:"successful_removals,omitempty"`

	// FailedRemovals lists entities whose removal failed.
	FailedRemovals []RemovalFailure `json:"failed_removals,omitempty"`

	// Phases holds the tagged result of each executed phase.
	Phases []PhaseResult `json:"phases,omitempty"`

	// Duration is how long the request took end to end.
	Duration time.Duration `json:"duration"`

	// Error describes the failure for non-success results.
	Error string `json:"error,omitempty"`
}

// Statistics summarizes the engine's cumulative activity.
type Statistics struct {
	// TotalTransactions is the number of transactions ever created.
	TotalTransactions int `json:"total_transactions"`

	// Committed is the number of transactions that committed.
	Committed int `json:"committed"`

	// RolledBack is the number of transactions that rolled back cleanly.
	RolledBack int `json:"rolled_back"`

	// EmergencyRollbacks is the number of panic or transport aborts.
	EmergencyRollbacks int `json:"emergency_rollbacks"`

	// ValidationFailures is the number of requests rejected up front.
	ValidationFailures int `json:"validation_failures"`

	// InProgress is the number of transactions currently executing.
	InProgress int `json:"in_progress"`

	// SuccessRate is Committed over terminal transactions, 0 when none ran.
	SuccessRate float64 `json:"success_rate"`
}

// IntegrityIssue describes a transaction stuck in a non-terminal state.
type IntegrityIssue struct {
	// TransactionID is the stuck transaction.
	TransactionID string `json:"transaction_id"`

	// Status is the status the transaction is stuck in.
	Status TransactionStatus `json:"status"`

	// Age is how long the transaction has been active.
	Age time.Duration `json:"age"`

	// EntityIDs are the targets still claimed by the transaction.
	EntityIDs []string `json:"entity_ids"`
}

// HistorySink receives committed and rolled back transactions for durable
// archival together with the ledger records they touched.
type HistorySink interface {
	ArchiveTransaction(ctx context.Context, tx *Transaction, records []*ledger.Record) error
}

// Options configures a cleanup engine.
type Options struct {
	// Metrics receives engine metrics, nil disables metric recording.
	Metrics Metrics

	// Events receives engine events, nil disables event publishing.
	Events EventPublisher

	// History receives terminal transactions for archival, nil disables it.
	History HistorySink

	// HistoryLimit bounds the in-memory transaction history. Zero means the
	// default of 256.
	HistoryLimit int

	// StaleAfter is how long a transaction may stay active before
	// ReleaseStaleTransactions forces it to roll back. Zero means the
	// default of one hour.
	StaleAfter time.Duration
}

// Metrics is the subset of telemetry metrics the engine records.
type Metrics interface {
	RecordTransactionStarted()
	RecordTransactionCompleted(status string, duration time.Duration)
	RecordEntityRemoval(outcome string)
	RecordStaleTransactionReleased()
	RecordError(errorClass, errorCode string)
	SetCleanupCandidates(count float64)
}

// EventPublisher is the subset of telemetry events the engine publishes.
type EventPublisher interface {
	PublishCleanupStarted(txID string, entityCount int, reason string) error
	PublishCleanupCommitted(txID string, successCount int, duration time.Duration) error
	PublishCleanupRolledBack(txID string, failureCount int, reason string) error
	PublishEmergencyRollback(txID, reason string) error
}
