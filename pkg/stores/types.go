package stores

import (
	"context"
	"database/sql"
	"time"
)

// CreationRecord is the persisted form of a ledger record. JSON-valued
// columns are stored as serialized strings.
type CreationRecord struct {
	Seq             int64      `json:"seq"`
	RecordID        string     `json:"record_id"`
	EntityID        string     `json:"entity_id"`
	Owner           string     `json:"owner"`
	DeviceID        string     `json:"device_id"`
	Kind            string     `json:"kind"`
	Context         *string    `json:"context,omitempty"` // JSON blob
	CreatedAt       time.Time  `json:"created_at"`
	CleanupEligible bool       `json:"cleanup_eligible"`
	CleanupReason   *string    `json:"cleanup_reason,omitempty"`
	CleanupMarkedAt *time.Time `json:"cleanup_marked_at,omitempty"`
	VerifiedRemoved bool       `json:"verified_removed"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

// Transaction is the persisted form of a terminal cleanup transaction.
type Transaction struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	Reason             string     `json:"reason"`
	EntityIDs          string     `json:"entity_ids"`                    // JSON array
	SuccessfulRemovals *string    `json:"successful_removals,omitempty"` // JSON array
	FailedRemovals     *string    `json:"failed_removals,omitempty"`     // JSON array
	Phases             *string    `json:"phases,omitempty"`              // JSON array
	Snapshot           *string    `json:"snapshot,omitempty"`            // JSON object
	Error              *string    `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// Inconsistency is the persisted form of a detected inconsistency.
type Inconsistency struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entity_id"`
	Kind       string     `json:"kind"`
	Severity   string     `json:"severity"`
	Detail     string     `json:"detail"`
	CycleID    string     `json:"cycle_id"`
	DetectedAt time.Time  `json:"detected_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CyclesSeen int        `json:"cycles_seen"`
	Resolved   bool       `json:"resolved"`
	Method     *string    `json:"method,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Cycle is the persisted summary of one reconciliation cycle.
type Cycle struct {
	CycleID          string    `json:"cycle_id"`
	Trigger          string    `json:"trigger"`
	StartedAt        time.Time `json:"started_at"`
	DurationMS       int64     `json:"duration_ms"`
	ExternalEntities int       `json:"external_entities"`
	TrackedEntities  int       `json:"tracked_entities"`
	Detected         *string   `json:"detected,omitempty"` // JSON object, kind -> count
	NewCount         int       `json:"new_count"`
	ResolvedCount    int       `json:"resolved_count"`
	CorrectedCount   int       `json:"corrected_count"`
	DeniedCount      int       `json:"denied_count"`
	FailedCount      int       `json:"failed_count"`
	CriticalIssues   int       `json:"critical_issues"`
	ActiveTotal      int       `json:"active_total"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Creation record operations
	UpsertCreationRecords(ctx context.Context, records []*CreationRecord) error
	LoadCreationRecords(ctx context.Context) ([]*CreationRecord, error)
	ListCreationRecords(ctx context.Context, entityID *string, owner *string, limit, offset int) ([]*CreationRecord, error)

	// Cleanup transaction operations
	UpsertTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, status *string, limit, offset int) ([]*Transaction, error)

	// Inconsistency operations
	UpsertInconsistencies(ctx context.Context, inconsistencies []*Inconsistency) error
	ListInconsistencies(ctx context.Context, resolved *bool, limit, offset int) ([]*Inconsistency, error)

	// Reconciliation cycle operations
	InsertCycle(ctx context.Context, cycle *Cycle) error
	ListCycles(ctx context.Context, limit, offset int) ([]*Cycle, error)

	// Retention
	PruneHistory(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
