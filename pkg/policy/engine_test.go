package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

const reservedPrefixRego = `package acme.naming

import rego.v1

deny contains violation if {
	startswith(input.name, "vm-tmp")
	violation := {"message": "temporary names are reserved", "severity": "error"}
}

deny contains msg if {
	input.environment == "prod"
	endswith(input.name, "-test")
	msg := "production names must not end in -test"
}
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

func TestNewEngine_LoadsBuiltins(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) != 1 {
		t.Fatalf("Expected 1 built-in policy, got %d", len(policies))
	}
	if policies[0].Name != "naming-conventions" {
		t.Errorf("Expected naming-conventions, got %s", policies[0].Name)
	}
	if !policies[0].Enabled {
		t.Error("Built-in policy should be enabled")
	}
}

func TestEngine_EvaluateBuiltin(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name       string
		input      Input
		violations int
	}{
		{"compliant", Input{Name: "vm-payments-dev", MaxLength: 64}, 0},
		{"uppercase", Input{Name: "vm-Payments-dev", MaxLength: 64}, 1},
		{"too long", Input{Name: "kv-paymentsreconciliation-dev", MaxLength: 24}, 1},
		{"double hyphen", Input{Name: "vm--dev", MaxLength: 64}, 1},
		{"trailing hyphen", Input{Name: "vm-app-", MaxLength: 64}, 1},
		{"too short and trailing hyphen", Input{Name: "a-", MaxLength: 64}, 2},
		{"no length limit", Input{Name: "vm-paymentsreconciliationservice-dev"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations, err := e.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if len(violations) != tt.violations {
				t.Fatalf("Expected %d violations, got %d: %+v", tt.violations, len(violations), violations)
			}
			for _, v := range violations {
				if v.Policy != "naming-conventions" {
					t.Errorf("Expected policy naming-conventions, got %s", v.Policy)
				}
				if v.Severity != SeverityError {
					t.Errorf("Expected severity %s, got %s", SeverityError, v.Severity)
				}
				if v.Message == "" {
					t.Error("Violation message should not be empty")
				}
			}
		})
	}
}

func TestEngine_ReplacePolicies(t *testing.T) {
	e := newTestEngine(t)

	err := e.ReplacePolicies(context.Background(), []Policy{{
		Name:     "reserved",
		Rego:     reservedPrefixRego,
		Severity: SeverityWarning,
		Enabled:  true,
		Source:   "reserved.rego",
	}})
	if err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if got := len(e.ListPolicies()); got != 2 {
		t.Errorf("Expected 2 policies, got %d", got)
	}

	violations, err := e.Evaluate(context.Background(), Input{Name: "vm-tmp-prod-test", Environment: "prod", MaxLength: 64})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("Expected 2 violations, got %d: %+v", len(violations), violations)
	}

	bySeverity := map[Severity]Violation{}
	for _, v := range violations {
		if v.Policy != "reserved" {
			t.Errorf("Expected policy reserved, got %s", v.Policy)
		}
		bySeverity[v.Severity] = v
	}
	if msg := bySeverity[SeverityError].Message; msg != "temporary names are reserved" {
		t.Errorf("Unexpected error-severity message: %q", msg)
	}
	if msg := bySeverity[SeverityWarning].Message; msg != "production names must not end in -test" {
		t.Errorf("Unexpected warning-severity message: %q", msg)
	}

	// replacing again drops the previous custom set but keeps builtins
	if err := e.ReplacePolicies(context.Background(), nil); err != nil {
		t.Fatalf("Failed to clear policies: %v", err)
	}
	if got := len(e.ListPolicies()); got != 1 {
		t.Errorf("Expected only the built-in policy, got %d", got)
	}
}

func TestEngine_ReplacePoliciesRejectsInvalidRego(t *testing.T) {
	e := newTestEngine(t)

	err := e.ReplacePolicies(context.Background(), []Policy{{
		Name:    "broken",
		Rego:    "package broken\n\ndeny[",
		Enabled: true,
		Source:  "broken.rego",
	}})
	if err == nil {
		t.Error("Expected error for invalid Rego")
	}
	if got := len(e.ListPolicies()); got != 1 {
		t.Errorf("Expected the policy set to be unchanged, got %d policies", got)
	}
}

func TestEngine_SetEnabled(t *testing.T) {
	e := newTestEngine(t)

	if err := e.SetEnabled("naming-conventions", false); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	if e.ListPolicies()[0].Enabled {
		t.Error("Policy should be listed as disabled")
	}
	violations, err := e.Evaluate(context.Background(), Input{Name: "VM", MaxLength: 1})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("Disabled policy should not report violations, got %+v", violations)
	}

	if err := e.SetEnabled("missing", true); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
