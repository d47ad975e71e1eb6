package ledger

import (
	"time"
)

// Record is a single creation entry in the ledger. A record is immutable
// once logged except for its lifecycle flags, which only progress forward
// (cleanup candidacy, then verified removal).
type Record struct {
	// RecordID is the unique identifier of this ledger entry.
	RecordID string `json:"record_id"`

	// EntityID is the identifier of the created entity in the external registry.
	EntityID string `json:"entity_id"`

	// Owner is the component or integration that created the entity.
	Owner string `json:"owner"`

	// DeviceID is the device the entity belongs to, if any.
	DeviceID string `json:"device_id,omitempty"`

	// Kind is the entity category (sensor, switch, fan, ...).
	Kind string `json:"kind,omitempty"`

	// Context carries arbitrary creation metadata supplied by the owner.
	Context map[string]interface{} `json:"context,omitempty"`

	// CreatedAt is when the creation was logged.
	CreatedAt time.Time `json:"created_at"`

	// CleanupEligible marks the record as a cleanup candidate.
	CleanupEligible bool `json:"cleanup_eligible"`

	// CleanupReason explains why the record became a cleanup candidate.
	CleanupReason string `json:"cleanup_reason,omitempty"`

	// CleanupMarkedAt is when the record became a cleanup candidate.
	CleanupMarkedAt *time.Time `json:"cleanup_marked_at,omitempty"`

	// VerifiedRemoved is set once the entity was confirmed absent from the
	// external registry after cleanup.
	VerifiedRemoved bool `json:"verified_removed"`

	// VerifiedAt is when the removal was confirmed.
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// clone returns a deep copy of the record so callers can never mutate
// ledger state through a returned pointer.
func (r *Record) clone() *Record {
	out := *r
	if r.Context != nil {
		out.Context = make(map[string]interface{}, len(r.Context))
		for k, v := range r.Context {
			out.Context[k] = v
		}
	}
	if r.CleanupMarkedAt != nil {
		t := *r.CleanupMarkedAt
		out.CleanupMarkedAt = &t
	}
	if r.VerifiedAt != nil {
		t := *r.VerifiedAt
		out.VerifiedAt = &t
	}
	return &out
}

// IntegrityReport is the result of a full ledger consistency check.
type IntegrityReport struct {
	// Healthy is true when every index agrees with the record arena.
	Healthy bool `json:"healthy"`

	// RecordCount is the number of records examined.
	RecordCount int `json:"record_count"`

	// CandidateCount is the number of live cleanup candidates.
	CandidateCount int `json:"candidate_count"`

	// Issues lists every discrepancy found, empty when healthy.
	Issues []string `json:"issues,omitempty"`

	// CheckedAt is when the check ran.
	CheckedAt time.Time `json:"checked_at"`
}
