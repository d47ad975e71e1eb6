package reconcile

import (
	"context"
	"time"

	"github.com/entwarden/entwarden/pkg/cleanup"
	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/policy"
)

// InconsistencyKind classifies a divergence between the ledger and the
// external registry.
type InconsistencyKind string

const (
	// KindOrphaned is an entity present in the registry with no active
	// ledger record.
	KindOrphaned InconsistencyKind = "orphaned"

	// KindZombie is an active ledger record whose entity vanished from the
	// registry without a verified cleanup.
	KindZombie InconsistencyKind = "zombie"

	// KindPendingCleanupStuck is a cleanup candidate still present in the
	// registry.
	KindPendingCleanupStuck InconsistencyKind = "pending_cleanup_stuck"

	// KindDisabledUnexpectedly is a tracked, active entity the registry
	// reports as disabled.
	KindDisabledUnexpectedly InconsistencyKind = "disabled_unexpectedly"
)

// Severity ranks how urgently an inconsistency needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// CorrectionMethod names the automated correction applied to an
// inconsistency.
type CorrectionMethod string

const (
	// MethodAutoRemoval adopts an orphan into the ledger and removes it.
	MethodAutoRemoval CorrectionMethod = "auto_removal"

	// MethodAutoCleanup retries a stuck cleanup.
	MethodAutoCleanup CorrectionMethod = "auto_cleanup"

	// MethodAutoReenable re-enables an unexpectedly disabled entity.
	MethodAutoReenable CorrectionMethod = "auto_reenable"

	// MethodSelfResolved marks an inconsistency that disappeared on its own.
	MethodSelfResolved CorrectionMethod = "self_resolved"
)

// Trigger records what started a reconciliation cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Inconsistency is one detected divergence, tracked across cycles until it
// resolves.
type Inconsistency struct {
	// ID uniquely identifies this inconsistency.
	ID string `json:"id"`

	// EntityID is the entity the inconsistency concerns.
	EntityID string `json:"entity_id"`

	// Kind classifies the divergence.
	Kind InconsistencyKind `json:"kind"`

	// Severity ranks the divergence.
	Severity Severity `json:"severity"`

	// Detail is a human-readable explanation.
	Detail string `json:"detail"`

	// CycleID is the cycle that first detected the inconsistency.
	CycleID string `json:"cycle_id"`

	// DetectedAt is when the inconsistency was first detected.
	DetectedAt time.Time `json:"detected_at"`

	// LastSeenAt is when the inconsistency was last re-detected.
	LastSeenAt time.Time `json:"last_seen_at"`

	// CyclesSeen counts the cycles that detected the inconsistency.
	CyclesSeen int `json:"cycles_seen"`

	// Resolved indicates the inconsistency is gone.
	Resolved bool `json:"resolved"`

	// Method is how the inconsistency was resolved.
	Method CorrectionMethod `json:"method,omitempty"`

	// ResolvedAt is when the inconsistency was resolved.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Report summarizes one reconciliation cycle.
type Report struct {
	CycleID          string        `json:"cycle_id"`
	Trigger          Trigger       `json:"trigger"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	ExternalEntities int           `json:"external_entities"`
	TrackedEntities  int           `json:"tracked_entities"`

	// Coverage is tracked entities over external entities, and
	// InverseCoverage the reverse. Zero when the denominator is zero.
	Coverage        float64 `json:"coverage"`
	InverseCoverage float64 `json:"inverse_coverage"`

	Detected       map[InconsistencyKind]int `json:"detected"`
	New            int                       `json:"new"`
	Resolved       int                       `json:"resolved"`
	Corrected      int                       `json:"corrected"`
	Denied         int                       `json:"denied"`
	Failed         int                       `json:"failed"`
	CriticalIssues int                       `json:"critical_issues"`
	ActiveTotal    int                       `json:"active_total"`
}

// Statistics are the loop's cumulative counters.
type Statistics struct {
	CyclesRun          int           `json:"cycles_run"`
	TotalDetected      int           `json:"total_detected"`
	TotalResolved      int           `json:"total_resolved"`
	CorrectionsApplied int           `json:"corrections_applied"`
	CorrectionsDenied  int           `json:"corrections_denied"`
	CorrectionsFailed  int           `json:"corrections_failed"`
	CriticalIssues     int           `json:"critical_issues"`
	ActiveTotal        int           `json:"active_total"`
	LastCycleAt        time.Time     `json:"last_cycle_at"`
	LastCycleDuration  time.Duration `json:"last_cycle_duration"`
}

// HealthStatus grades the overall divergence level.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// Health is the loop's self-assessment, used by the health command.
type Health struct {
	Status         HealthStatus `json:"status"`
	ActiveTotal    int          `json:"active_total"`
	CriticalIssues int          `json:"critical_issues"`
	CyclesRun      int          `json:"cycles_run"`
	LastCycleAt    time.Time    `json:"last_cycle_at,omitempty"`
	Notes          []string     `json:"notes,omitempty"`
}

// ComprehensiveReport merges the loop's view with cleanup engine statistics
// and ledger integrity into one operational snapshot.
type ComprehensiveReport struct {
	GeneratedAt   time.Time                `json:"generated_at"`
	Health        Health                   `json:"health"`
	Loop          Statistics               `json:"loop"`
	Cleanup       *cleanup.Statistics      `json:"cleanup,omitempty"`
	CleanupIssues []cleanup.IntegrityIssue `json:"cleanup_issues,omitempty"`
	Ledger        *ledger.IntegrityReport  `json:"ledger"`
	Active        []*Inconsistency         `json:"active,omitempty"`
}

// Cleaner executes cleanup transactions. Satisfied by *cleanup.Engine.
type Cleaner interface {
	ExecuteCleanup(ctx context.Context, entityIDs []string, reason string) *cleanup.Result
}

// CorrectionGate decides whether a proposed correction may run. Satisfied
// by *policy.Engine.
type CorrectionGate interface {
	EvaluateCorrection(ctx context.Context, input *policy.CorrectionInput) (*policy.Decision, error)
}

// Metrics is the subset of telemetry the loop records.
type Metrics interface {
	RecordCycleCompleted(trigger string, duration time.Duration)
	RecordInconsistency(kind, severity string)
	SetActiveInconsistencies(kind string, count float64)
	RecordCorrection(method, outcome string)
	RecordCriticalIssue()
	SetExternalEntities(count float64)
	SetTrackedEntities(count float64)
}

// EventPublisher is the subset of telemetry events the loop emits.
type EventPublisher interface {
	PublishCycleStarted(cycleID, trigger string) error
	PublishCycleCompleted(cycleID string, inconsistencies int, duration time.Duration) error
	PublishInconsistencyDetected(cycleID, entityID, kind, severity string) error
	PublishCorrectionApplied(cycleID, entityID, method string) error
	PublishCorrectionDenied(cycleID, entityID, method, reason string) error
}

// Archiver persists cycle reports and their inconsistencies.
type Archiver interface {
	ArchiveCycle(ctx context.Context, report *Report, inconsistencies []*Inconsistency) error
}

// Options configures a reconciliation loop.
type Options struct {
	// Interval between scheduled cycles. Defaults to five minutes.
	Interval time.Duration

	// AutoCorrect enables automated corrections. Detection always runs.
	AutoCorrect bool

	// HistoryLimit bounds resolved inconsistencies kept in memory.
	// Defaults to 512.
	HistoryLimit int

	// DegradedThreshold is the active inconsistency count at which health
	// degrades. Defaults to 10.
	DegradedThreshold int

	// Gate is consulted before every correction. A nil gate allows all.
	Gate CorrectionGate

	Metrics  Metrics
	Events   EventPublisher
	Archiver Archiver
}

// severityFor maps an inconsistency kind to its assigned severity.
func severityFor(kind InconsistencyKind) Severity {
	switch kind {
	case KindZombie:
		return SeverityHigh
	case KindOrphaned, KindPendingCleanupStuck:
		return SeverityMedium
	case KindDisabledUnexpectedly:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// methodFor maps an inconsistency kind to its correction method. Zombies
// have none: they are never corrected automatically.
func methodFor(kind InconsistencyKind) CorrectionMethod {
	switch kind {
	case KindOrphaned:
		return MethodAutoRemoval
	case KindPendingCleanupStuck:
		return MethodAutoCleanup
	case KindDisabledUnexpectedly:
		return MethodAutoReenable
	default:
		return ""
	}
}
