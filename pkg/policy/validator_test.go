package policy

import (
	"context"
	"testing"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/rs/zerolog"
)

func newTestValidator(t *testing.T, withRules bool) *Validator {
	t.Helper()
	logger := zerolog.Nop()
	if !withRules {
		return NewValidator(logger)
	}
	rules, err := NewEngine(context.Background(), logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return NewValidator(logger, WithRules(rules))
}

func validationDetail(t *testing.T, err error) (*engine.ProvisioningError, engine.ValidationDetail) {
	t.Helper()
	perr, ok := engine.AsProvisioningError(err)
	if !ok {
		t.Fatalf("Expected a ProvisioningError, got %T: %v", err, err)
	}
	detail, ok := perr.Detail.(engine.ValidationDetail)
	if !ok {
		t.Fatalf("Expected ValidationDetail, got %T", perr.Detail)
	}
	return perr, detail
}

func TestValidator_PatternMatches(t *testing.T) {
	v := newTestValidator(t, false)

	valid := []struct {
		rt   engine.ResourceType
		name string
		env  engine.Environment
	}{
		{engine.ResourceTypeVirtualMachine, "vm-payments-dev", engine.EnvironmentDev},
		{engine.ResourceTypeVirtualMachine, "vm-payments-api-prod", engine.EnvironmentProd},
		{engine.ResourceTypeWebApp, "app-portal-test", engine.EnvironmentTest},
		{engine.ResourceTypeStorageAccount, "stpaymentsprod", engine.EnvironmentProd},
		{engine.ResourceTypeKeyVault, "kv-payments-dev", engine.EnvironmentDev},
	}

	for _, tc := range valid {
		for _, mode := range []engine.NameMode{engine.NameModeSoft, engine.NameModeStrict} {
			ok, err := v.Validate(context.Background(), tc.rt, tc.name, tc.env, mode)
			if err != nil {
				t.Fatalf("%s (%s): unexpected error: %v", tc.name, mode, err)
			}
			if !ok {
				t.Errorf("%s (%s): expected compliant", tc.name, mode)
			}
		}
	}
}

func TestValidator_SoftAndStrictMismatch(t *testing.T) {
	v := newTestValidator(t, false)

	invalid := []struct {
		rt   engine.ResourceType
		name string
		env  engine.Environment
	}{
		{engine.ResourceTypeVirtualMachine, "server01", engine.EnvironmentDev},
		{engine.ResourceTypeVirtualMachine, "vm-payments-prod", engine.EnvironmentDev},
		{engine.ResourceTypeWebApp, "vm-portal-test", engine.EnvironmentTest},
		{engine.ResourceTypeStorageAccount, "st-payments-prod", engine.EnvironmentProd},
		{engine.ResourceTypeKeyVault, "kv--dev", engine.EnvironmentDev},
	}

	for _, tc := range invalid {
		ok, err := v.Validate(context.Background(), tc.rt, tc.name, tc.env, engine.NameModeSoft)
		if err != nil {
			t.Fatalf("%s: soft mode returned error: %v", tc.name, err)
		}
		if ok {
			t.Errorf("%s: soft mode reported compliant", tc.name)
		}

		ok, err = v.Validate(context.Background(), tc.rt, tc.name, tc.env, engine.NameModeStrict)
		if ok {
			t.Errorf("%s: strict mode reported compliant", tc.name)
		}
		if err == nil {
			t.Fatalf("%s: strict mode returned no error", tc.name)
		}

		perr, detail := validationDetail(t, err)
		if perr.Category != engine.CategoryValidation {
			t.Errorf("%s: expected category %s, got %s", tc.name, engine.CategoryValidation, perr.Category)
		}
		if detail.ProvidedValue != tc.name {
			t.Errorf("%s: expected provided value %q, got %v", tc.name, tc.name, detail.ProvidedValue)
		}
		if detail.Rule == "" {
			t.Errorf("%s: rule should not be empty", tc.name)
		}
	}
}

func TestValidator_EmptyNameAndUnknownType(t *testing.T) {
	v := newTestValidator(t, false)

	for _, mode := range []engine.NameMode{engine.NameModeSoft, engine.NameModeStrict} {
		ok, err := v.Validate(context.Background(), engine.ResourceTypeVirtualMachine, "", engine.EnvironmentDev, mode)
		if ok || !engine.IsValidation(err) {
			t.Errorf("%s: empty name should be a validation error, got ok=%t err=%v", mode, ok, err)
		}

		ok, err = v.Validate(context.Background(), "database", "db-app-dev", engine.EnvironmentDev, mode)
		if ok || !engine.IsValidation(err) {
			t.Errorf("%s: unknown type should be a validation error, got ok=%t err=%v", mode, ok, err)
		}
	}
}

func TestValidator_StrictRuleCarriesPattern(t *testing.T) {
	v := newTestValidator(t, false)

	_, err := v.Validate(context.Background(), engine.ResourceTypeVirtualMachine, "Server01", engine.EnvironmentProd, engine.NameModeStrict)
	_, detail := validationDetail(t, err)
	if want := `^vm-[a-z0-9]+(-[a-z0-9]+)*-prod$`; detail.Rule != want {
		t.Errorf("Expected rule %s, got %s", want, detail.Rule)
	}
}

func TestValidator_RegoRules(t *testing.T) {
	v := newTestValidator(t, true)

	ok, err := v.Validate(context.Background(), engine.ResourceTypeKeyVault, "kv-payments-dev", engine.EnvironmentDev, engine.NameModeStrict)
	if err != nil || !ok {
		t.Fatalf("Expected compliant name, got ok=%t err=%v", ok, err)
	}

	// matches the pattern but exceeds the 24 character limit for key vaults
	long := "kv-paymentsreconciliation-dev"
	ok, err = v.Validate(context.Background(), engine.ResourceTypeKeyVault, long, engine.EnvironmentDev, engine.NameModeSoft)
	if err != nil {
		t.Fatalf("Soft mode returned error: %v", err)
	}
	if ok {
		t.Error("Expected the length policy to reject the name")
	}

	_, err = v.Validate(context.Background(), engine.ResourceTypeKeyVault, long, engine.EnvironmentDev, engine.NameModeStrict)
	perr, detail := validationDetail(t, err)
	if detail.Rule != "naming-conventions" {
		t.Errorf("Expected rule naming-conventions, got %s", detail.Rule)
	}
	if perr.Code != engine.ErrCodeNamingPolicy {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeNamingPolicy, perr.Code)
	}
}

func TestValidator_CustomSuffixes(t *testing.T) {
	policies := DefaultNamingPolicies()
	vm := policies[engine.ResourceTypeVirtualMachine]
	vm.EnvironmentSuffixes = map[engine.Environment]string{engine.EnvironmentProd: "prd"}
	policies[engine.ResourceTypeVirtualMachine] = vm

	v := NewValidator(zerolog.Nop(), WithNamingPolicies(policies))

	tests := []struct {
		name string
		want bool
	}{
		{"vm-core-prd", true},
		{"vm-core-prod", false},
	}
	for _, tt := range tests {
		ok, err := v.Validate(context.Background(), engine.ResourceTypeVirtualMachine, tt.name, engine.EnvironmentProd, engine.NameModeSoft)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if ok != tt.want {
			t.Errorf("%s: expected compliant=%t, got %t", tt.name, tt.want, ok)
		}
	}
}
