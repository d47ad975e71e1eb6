// Package policy provides Open Policy Agent (OPA) integration for entwarden.
//
// This package gates automated corrections proposed by the reconciliation
// loop using the Rego policy language. It includes built-in policies for the
// safety rules every deployment needs and supports loading custom policies
// from files.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files and directories
//  3. Types - Data structures for policies, violations, and decisions
//  4. Built-in Policies - Pre-defined safety rules for corrections
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Gating a proposed correction:
//
//	input := &policy.CorrectionInput{
//	    EntityID: "light.hallway_3",
//	    Kind:     "orphaned",
//	    Severity: "medium",
//	    Method:   "auto_removal",
//	    Owner:    "reconciler",
//	}
//
//	decision, err := engine.EvaluateCorrection(ctx, input)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !decision.Allowed {
//	    for _, violation := range decision.Violations {
//	        fmt.Printf("Policy %s denied: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/entwarden/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = engine.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. correction-method-matrix - Pins each inconsistency kind to its method
//  2. critical-escalation-guard - Blocks corrections of critical findings
//  3. reenable-scope - Never re-enables entities a user disabled
//  4. manual-owner-protection - Never auto-removes hand-created entities
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files. A leading
// "# severity: <level>" comment sets the default severity:
//
//	# Block removals on the cloud platform during business hours
//	# severity: error
//	package custom.policies.hours
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.method == "auto_removal"
//	    input.platform == "cloud_bridge"
//
//	    violation := {
//	        "message": "Cloud bridge entities are only removed by operators",
//	        "severity": "error",
//	        "entity": input.entity_id,
//	    }
//	}
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: Informational messages
//   - warning: Issues that should be reviewed but don't block corrections
//   - error: Issues that block the proposed correction
//   - critical: Severe issues requiring operator attention
//
// A correction is denied when any violation reaches error or critical.
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are compiled once and reused for multiple evaluations. Caching is
// implemented at both the loader and engine levels.
package policy
