package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the proposed correction.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must be addressed by an operator.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// EntityID is the entity the violation applies to.
	EntityID string `json:"entity_id,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Decision represents the outcome of a policy evaluation.
type Decision struct {
	// Allowed indicates if the proposed action may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation occurred.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// CorrectionInput is the input document for correction gating. The
// reconciliation loop builds one per proposed correction and every enabled
// policy sees the same document.
type CorrectionInput struct {
	// EntityID is the entity the correction targets.
	EntityID string `json:"entity_id"`

	// Kind is the inconsistency kind that triggered the correction.
	Kind string `json:"kind"`

	// Severity is the severity assigned to the inconsistency.
	Severity string `json:"severity"`

	// Method is the proposed correction method.
	Method string `json:"method"`

	// Platform is the entity's registry platform, when known.
	Platform string `json:"platform,omitempty"`

	// Owner is the creation owner recorded in the ledger, when known.
	Owner string `json:"owner,omitempty"`

	// Context carries additional facts such as who disabled the entity.
	Context map[string]interface{} `json:"context,omitempty"`

	// Timestamp is when the correction was proposed.
	Timestamp time.Time `json:"timestamp"`
}
