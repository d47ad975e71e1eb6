package cleanup

import (
	"encoding/json"
	"fmt"
)

// TransactionStatus represents the overall status of a cleanup transaction.
type TransactionStatus string

const (
	// StatusPending indicates the transaction is created but not yet executing.
	StatusPending TransactionStatus = "pending"

	// StatusInProgress indicates the transaction is currently executing phases.
	StatusInProgress TransactionStatus = "in_progress"

	// StatusCommitted indicates every removal succeeded and was verified.
	StatusCommitted TransactionStatus = "committed"

	// StatusRolledBack indicates the transaction failed and left the ledger untouched.
	StatusRolledBack TransactionStatus = "rolled_back"
)

// IsTerminal returns true if the transaction status represents a final state.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCommitted || s == StatusRolledBack
}

// IsActive returns true if the transaction is currently active.
func (s TransactionStatus) IsActive() bool {
	return s == StatusPending || s == StatusInProgress
}

// Validate checks if the transaction status is valid.
func (s TransactionStatus) Validate() error {
	switch s {
	case StatusPending, StatusInProgress, StatusCommitted, StatusRolledBack:
		return nil
	default:
		return fmt.Errorf("invalid transaction status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s TransactionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *TransactionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = TransactionStatus(str)
	return s.Validate()
}

// Phase identifies a stage of the cleanup workflow.
type Phase string

const (
	// PhaseValidate checks every target is tracked and not already in flight.
	PhaseValidate Phase = "validate"

	// PhaseSnapshot captures the registry state of every target before removal.
	PhaseSnapshot Phase = "snapshot"

	// PhaseExecute performs the removals against the external registry.
	PhaseExecute Phase = "execute"

	// PhaseVerify re-reads the registry to confirm every removal took effect.
	PhaseVerify Phase = "verify"

	// PhaseFinalize commits or rolls back based on the verified outcome.
	PhaseFinalize Phase = "finalize"
)

// Validate checks if the phase is valid.
func (p Phase) Validate() error {
	switch p {
	case PhaseValidate, PhaseSnapshot, PhaseExecute, PhaseVerify, PhaseFinalize:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// ResultStatus summarizes how a cleanup request ended.
type ResultStatus string

const (
	// ResultSuccess indicates every entity was removed and verified absent.
	ResultSuccess ResultStatus = "success"

	// ResultValidationFailed indicates the request was rejected before any
	// registry operation ran.
	ResultValidationFailed ResultStatus = "validation_failed"

	// ResultRolledBack indicates at least one removal failed or could not be
	// verified, so the transaction rolled back.
	ResultRolledBack ResultStatus = "rolled_back"

	// ResultEmergencyRollback indicates a panic or transport failure aborted
	// the transaction mid-flight.
	ResultEmergencyRollback ResultStatus = "emergency_rollback"
)

// Validate checks if the result status is valid.
func (s ResultStatus) Validate() error {
	switch s {
	case ResultSuccess, ResultValidationFailed, ResultRolledBack, ResultEmergencyRollback:
		return nil
	default:
		return fmt.Errorf("invalid result status: %s", s)
	}
}
