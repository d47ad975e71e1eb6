package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if eng == nil {
		t.Fatal("Engine is nil")
	}

	// Check that built-in policies are loaded
	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"correction-method-matrix",
		"critical-escalation-guard",
		"reenable-scope",
		"manual-owner-protection",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateCorrection_MethodMatrix(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		input         *CorrectionInput
		expectAllowed bool
	}{
		{
			name: "orphaned entity auto removal",
			input: &CorrectionInput{
				EntityID: "light.hallway_3",
				Kind:     "orphaned",
				Severity: "medium",
				Method:   "auto_removal",
				Owner:    "reconciler",
			},
			expectAllowed: true,
		},
		{
			name: "orphaned entity wrong method",
			input: &CorrectionInput{
				EntityID: "light.hallway_3",
				Kind:     "orphaned",
				Severity: "medium",
				Method:   "auto_reenable",
				Owner:    "reconciler",
			},
			expectAllowed: false,
		},
		{
			name: "stuck cleanup retried",
			input: &CorrectionInput{
				EntityID: "switch.garage",
				Kind:     "pending_cleanup_stuck",
				Severity: "medium",
				Method:   "auto_cleanup",
				Owner:    "automation_suite",
			},
			expectAllowed: true,
		},
		{
			name: "unexpected disable reverted",
			input: &CorrectionInput{
				EntityID: "sensor.porch",
				Kind:     "disabled_unexpectedly",
				Severity: "low",
				Method:   "auto_reenable",
				Owner:    "automation_suite",
				Context:  map[string]interface{}{"disabled_by": "integration"},
			},
			expectAllowed: true,
		},
		{
			name: "disabled entity removal denied",
			input: &CorrectionInput{
				EntityID: "sensor.porch",
				Kind:     "disabled_unexpectedly",
				Severity: "low",
				Method:   "auto_removal",
				Owner:    "automation_suite",
			},
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := eng.EvaluateCorrection(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if decision.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, decision.Allowed, decision.Violations)
			}
		})
	}
}

func TestEvaluateCorrection_CriticalNeverCorrected(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name  string
		input *CorrectionInput
	}{
		{
			name: "critical severity",
			input: &CorrectionInput{
				EntityID: "light.hallway_3",
				Kind:     "orphaned",
				Severity: "critical",
				Method:   "auto_removal",
			},
		},
		{
			name: "zombie record",
			input: &CorrectionInput{
				EntityID: "fan.attic",
				Kind:     "zombie",
				Severity: "high",
				Method:   "auto_cleanup",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := eng.EvaluateCorrection(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if decision.Allowed {
				t.Errorf("Expected correction to be denied, got allowed. Violations: %+v",
					decision.Violations)
			}

			foundGuard := false
			for _, v := range decision.Violations {
				if v.Policy == "critical-escalation-guard" {
					foundGuard = true
					break
				}
			}
			if !foundGuard {
				t.Error("Expected a critical-escalation-guard violation")
			}
		})
	}
}

func TestEvaluateCorrection_UserDisabledStaysDisabled(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	denied := &CorrectionInput{
		EntityID: "sensor.porch",
		Kind:     "disabled_unexpectedly",
		Severity: "low",
		Method:   "auto_reenable",
		Context:  map[string]interface{}{"disabled_by": "user"},
	}

	decision, err := eng.EvaluateCorrection(context.Background(), denied)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if decision.Allowed {
		t.Errorf("Expected user-disabled entity to stay disabled. Violations: %+v",
			decision.Violations)
	}

	allowed := &CorrectionInput{
		EntityID: "sensor.porch",
		Kind:     "disabled_unexpectedly",
		Severity: "low",
		Method:   "auto_reenable",
		Context:  map[string]interface{}{"disabled_by": "integration"},
	}

	decision, err = eng.EvaluateCorrection(context.Background(), allowed)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Expected integration-disabled entity to be re-enabled. Violations: %+v",
			decision.Violations)
	}
}

func TestEvaluateCorrection_ManualOwnerProtected(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := &CorrectionInput{
		EntityID: "light.workbench",
		Kind:     "orphaned",
		Severity: "medium",
		Method:   "auto_removal",
		Owner:    "manual",
	}

	decision, err := eng.EvaluateCorrection(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if decision.Allowed {
		t.Error("Expected manually owned entity to be protected from removal")
	}

	found := false
	for _, v := range decision.Violations {
		if v.Policy == "manual-owner-protection" {
			found = true
			if v.EntityID != "light.workbench" {
				t.Errorf("Expected violation for light.workbench, got %s", v.EntityID)
			}
		}
	}
	if !found {
		t.Error("Expected a manual-owner-protection violation")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policyName := "correction-method-matrix"

	// Disable the policy
	err = eng.DisablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}

	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	// A method mismatch only the matrix policy would catch
	input := &CorrectionInput{
		EntityID: "light.hallway_3",
		Kind:     "orphaned",
		Severity: "medium",
		Method:   "auto_reenable",
	}

	decision, err := eng.EvaluateCorrection(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	for _, v := range decision.Violations {
		if v.Policy == policyName {
			t.Error("Disabled policy should not generate violations")
		}
	}

	// Re-enable the policy
	err = eng.EnablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	policy, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}

	if !policy.Enabled {
		t.Error("Policy should be enabled")
	}

	decision, err = eng.EvaluateCorrection(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected re-enabled policy to deny the mismatch again")
	}
}

func TestLoadPolicies_CustomRego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "platform-freeze.rego")

	regoContent := `# Freezes all corrections for the test platform
# severity: error
package custom.policies.freeze

import rego.v1

deny contains violation if {
	input.platform == "frozen_bridge"
	violation := {
		"message": sprintf("Platform frozen_bridge is frozen, refusing to touch %s", [input.entity_id]),
		"severity": "error",
		"entity": input.entity_id,
	}
}`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{tmpDir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	input := &CorrectionInput{
		EntityID: "light.hallway_3",
		Kind:     "orphaned",
		Severity: "medium",
		Method:   "auto_removal",
		Platform: "frozen_bridge",
	}

	decision, err := eng.EvaluateCorrection(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if decision.Allowed {
		t.Error("Expected custom policy to deny the correction")
	}

	found := false
	for _, v := range decision.Violations {
		if v.Policy == "platform-freeze" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a platform-freeze violation, got: %+v", decision.Violations)
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	initialCount := len(eng.ListPolicies())

	// Reload policies
	err = eng.ReloadPolicies(context.Background())
	if err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	afterReloadCount := len(eng.ListPolicies())

	if initialCount != afterReloadCount {
		t.Errorf("Expected %d policies after reload, got %d", initialCount, afterReloadCount)
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()

	if len(policies) == 0 {
		t.Fatal("No policies returned")
	}

	// Check that all policies have required fields
	for _, p := range policies {
		if p.Name == "" {
			t.Error("Policy has empty name")
		}
		if p.Rego == "" {
			t.Error("Policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("Policy has zero CreatedAt")
		}
	}
}

func TestEvaluateCorrection_DecisionMetadata(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := &CorrectionInput{
		EntityID:  "light.hallway_3",
		Kind:      "orphaned",
		Severity:  "medium",
		Method:    "auto_removal",
		Timestamp: time.Now(),
	}

	decision, err := eng.EvaluateCorrection(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if len(decision.EvaluatedPolicies) != len(GetBuiltinPolicies()) {
		t.Errorf("Expected %d evaluated policies, got %d",
			len(GetBuiltinPolicies()), len(decision.EvaluatedPolicies))
	}
	if decision.EvaluatedAt.IsZero() {
		t.Error("Expected evaluated_at to be set")
	}
}
