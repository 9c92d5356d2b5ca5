package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/openfroyo/provisioner/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is logged but does not reject a name.
	SeverityWarning Severity = "warning"

	// SeverityError rejects a name.
	SeverityError Severity = "error"
)

// Policy is an organisation naming rule written in Rego. The module must
// define a `deny` set in its package.
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

	// Source is the file the policy was loaded from, empty for builtins.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is a single deny result of a Rego policy.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Input is the document Rego policies are evaluated against.
type Input struct {
	ResourceType string `json:"resource_type"`
	Name         string `json:"name"`
	Environment  string `json:"environment"`
	Prefix       string `json:"prefix"`
	MaxLength    int    `json:"max_length"`
}

// NamingPolicy is the static pattern for one resource type. Pattern may
// contain the placeholder {env}, replaced by the environment suffix.
type NamingPolicy struct {
	ResourceType        engine.ResourceType
	Pattern             string
	EnvironmentSuffixes map[engine.Environment]string
	MaxLength           int
}

// envPlaceholder is substituted in patterns with the environment suffix.
const envPlaceholder = "{env}"

// PatternFor returns the concrete pattern for env.
func (p NamingPolicy) PatternFor(env engine.Environment) string {
	suffix, ok := p.EnvironmentSuffixes[env]
	if !ok {
		suffix = string(env)
	}
	return strings.ReplaceAll(p.Pattern, envPlaceholder, regexp.QuoteMeta(suffix))
}

// Compile compiles the concrete pattern for env.
func (p NamingPolicy) Compile(env engine.Environment) (*regexp.Regexp, error) {
	re, err := regexp.Compile(p.PatternFor(env))
	if err != nil {
		return nil, fmt.Errorf("invalid naming pattern for %s: %w", p.ResourceType, err)
	}
	return re, nil
}

func defaultSuffixes() map[engine.Environment]string {
	return map[engine.Environment]string{
		engine.EnvironmentDev:  "dev",
		engine.EnvironmentTest: "test",
		engine.EnvironmentProd: "prod",
	}
}

// DefaultNamingPolicies returns the builtin pattern per resource type.
//
//	virtual machine  vm-<app>[-<part>]-<env>
//	web app          app-<app>[-<part>]-<env>
//	storage account  st<app><env>, lowercase alphanumeric, at most 24 chars
//	key vault        kv-<app>[-<part>]-<env>, at most 24 chars
func DefaultNamingPolicies() map[engine.ResourceType]NamingPolicy {
	return map[engine.ResourceType]NamingPolicy{
		engine.ResourceTypeVirtualMachine: {
			ResourceType:        engine.ResourceTypeVirtualMachine,
			Pattern:             `^vm-[a-z0-9]+(-[a-z0-9]+)*-{env}$`,
			EnvironmentSuffixes: defaultSuffixes(),
			MaxLength:           64,
		},
		engine.ResourceTypeWebApp: {
			ResourceType:        engine.ResourceTypeWebApp,
			Pattern:             `^app-[a-z0-9]+(-[a-z0-9]+)*-{env}$`,
			EnvironmentSuffixes: defaultSuffixes(),
			MaxLength:           60,
		},
		engine.ResourceTypeStorageAccount: {
			ResourceType:        engine.ResourceTypeStorageAccount,
			Pattern:             `^st[a-z0-9]+{env}$`,
			EnvironmentSuffixes: defaultSuffixes(),
			MaxLength:           24,
		},
		engine.ResourceTypeKeyVault: {
			ResourceType:        engine.ResourceTypeKeyVault,
			Pattern:             `^kv-[a-z0-9]+(-[a-z0-9]+)*-{env}$`,
			EnvironmentSuffixes: defaultSuffixes(),
			MaxLength:           24,
		},
	}
}
