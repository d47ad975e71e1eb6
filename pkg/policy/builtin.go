package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		correctionMethodMatrixPolicy(),
		criticalEscalationGuardPolicy(),
		reenableScopePolicy(),
		manualOwnerProtectionPolicy(),
	}
}

// correctionMethodMatrixPolicy pins each inconsistency kind to the one
// correction method allowed for it.
func correctionMethodMatrixPolicy() Policy {
	return Policy{
		Name:        "correction-method-matrix",
		Description: "Restricts each inconsistency kind to its permitted correction method",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"corrections", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package entwarden.policies.corrections

import rego.v1

# Correction methods permitted per inconsistency kind
allowed_methods := {
	"orphaned": ["auto_removal"],
	"pending_cleanup_stuck": ["auto_cleanup"],
	"disabled_unexpectedly": ["auto_reenable"],
}

deny contains violation if {
	input.method
	methods := allowed_methods[input.kind]
	not input.method in methods
	violation := {
		"message": sprintf("Correction method '%s' is not permitted for %s inconsistencies", [input.method, input.kind]),
		"severity": "error",
		"entity": input.entity_id,
	}
}

deny contains violation if {
	input.method
	not allowed_methods[input.kind]
	violation := {
		"message": sprintf("Inconsistencies of kind '%s' have no permitted correction method", [input.kind]),
		"severity": "error",
		"entity": input.entity_id,
	}
}`,
	}
}

// criticalEscalationGuardPolicy blocks automated handling of anything an
// operator must look at.
func criticalEscalationGuardPolicy() Policy {
	return Policy{
		Name:        "critical-escalation-guard",
		Description: "Blocks automated correction of critical inconsistencies and zombie records",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"corrections", "safety", "escalation"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package entwarden.policies.escalation

import rego.v1

deny contains violation if {
	input.severity == "critical"
	violation := {
		"message": sprintf("Entity %s carries a critical inconsistency and requires operator review", [input.entity_id]),
		"severity": "critical",
		"entity": input.entity_id,
	}
}

# A ledger record whose entity vanished without cleanup points at data loss
# or an external actor. Never paper over it automatically.
deny contains violation if {
	input.kind == "zombie"
	violation := {
		"message": sprintf("Zombie record for %s must be investigated, not auto-corrected", [input.entity_id]),
		"severity": "critical",
		"entity": input.entity_id,
	}
}`,
	}
}

// reenableScopePolicy keeps automatic re-enabling away from deliberate user
// choices.
func reenableScopePolicy() Policy {
	return Policy{
		Name:        "reenable-scope",
		Description: "Prevents re-enabling entities that a user disabled on purpose",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"corrections", "entities"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package entwarden.policies.reenable

import rego.v1

deny contains violation if {
	input.method == "auto_reenable"
	input.context.disabled_by == "user"
	violation := {
		"message": sprintf("Entity %s was disabled by the user and stays disabled", [input.entity_id]),
		"severity": "error",
		"entity": input.entity_id,
	}
}`,
	}
}

// manualOwnerProtectionPolicy protects hand-created entities from automated
// removal.
func manualOwnerProtectionPolicy() Policy {
	return Policy{
		Name:        "manual-owner-protection",
		Description: "Prevents automated removal of entities created manually",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"corrections", "ownership"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package entwarden.policies.ownership

import rego.v1

# Owners whose entities must never be removed automatically
protected_owners := ["manual", "user_defined"]

deny contains violation if {
	input.method == "auto_removal"
	some owner in protected_owners
	input.owner == owner
	violation := {
		"message": sprintf("Entity %s is owned by '%s' and cannot be removed automatically", [input.entity_id, owner]),
		"severity": "error",
		"entity": input.entity_id,
	}
}`,
	}
}
