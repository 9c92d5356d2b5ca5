package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/rs/zerolog"
)

// Validator checks resource names against the per-type pattern and then the
// Rego naming policies. It holds no per-call state and is safe for
// concurrent use.
type Validator struct {
	policies map[engine.ResourceType]NamingPolicy
	rules    *Engine
	logger   zerolog.Logger

	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithNamingPolicies overrides the per-type patterns.
func WithNamingPolicies(policies map[engine.ResourceType]NamingPolicy) ValidatorOption {
	return func(v *Validator) {
		v.policies = policies
	}
}

// WithRules evaluates the Rego policies of rules after the pattern matches.
func WithRules(rules *Engine) ValidatorOption {
	return func(v *Validator) {
		v.rules = rules
	}
}

// NewValidator creates a validator using DefaultNamingPolicies.
func NewValidator(logger zerolog.Logger, opts ...ValidatorOption) *Validator {
	v := &Validator{
		policies: DefaultNamingPolicies(),
		logger:   logger.With().Str("component", "name-validator").Logger(),
		compiled: make(map[string]*regexp.Regexp),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Policy returns the naming policy for resourceType.
func (v *Validator) Policy(resourceType engine.ResourceType) (NamingPolicy, bool) {
	p, ok := v.policies[resourceType]
	return p, ok
}

// Validate reports whether name follows the naming policy for resourceType in
// environment. An empty name or unknown type is always a ValidationError. On a
// mismatch soft mode returns false with no error; strict mode returns a
// ValidationError carrying the rule and the offending name.
func (v *Validator) Validate(ctx context.Context, resourceType engine.ResourceType, name string, environment engine.Environment, mode engine.NameMode) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, engine.NewValidationError("resource name must not be empty", resourceType, name,
			engine.ValidationDetail{Rule: "required", ProvidedValue: name})
	}

	policy, ok := v.policies[resourceType]
	if !ok {
		return false, engine.NewValidationError(fmt.Sprintf("no naming policy for resource type %q", resourceType),
			resourceType, name, engine.ValidationDetail{Rule: "resource_type", ProvidedValue: string(resourceType)})
	}

	re, err := v.pattern(policy, environment)
	if err != nil {
		return false, engine.NewValidationError(err.Error(), resourceType, name,
			engine.ValidationDetail{Rule: policy.Pattern, ProvidedValue: name})
	}

	if !re.MatchString(name) {
		return v.reject(resourceType, name, mode, re.String(),
			fmt.Sprintf("name %q does not match naming pattern %s", name, re.String()))
	}

	if v.rules == nil {
		return true, nil
	}

	violations, err := v.rules.Evaluate(ctx, Input{
		ResourceType: string(resourceType),
		Name:         name,
		Environment:  string(environment),
		Prefix:       resourceType.Prefix(),
		MaxLength:    policy.MaxLength,
	})
	if err != nil {
		return false, engine.Normalize(err, resourceType, name)
	}

	for _, viol := range violations {
		if viol.Severity != SeverityError {
			v.logger.Warn().
				Str("policy", viol.Policy).
				Str("resource_type", string(resourceType)).
				Str("name", name).
				Msg(viol.Message)
			continue
		}
		return v.reject(resourceType, name, mode, viol.Policy, viol.Message)
	}

	return true, nil
}

func (v *Validator) reject(resourceType engine.ResourceType, name string, mode engine.NameMode, rule, message string) (bool, error) {
	if mode == engine.NameModeStrict {
		return false, engine.NewValidationError(message, resourceType, name,
			engine.ValidationDetail{Rule: rule, ProvidedValue: name}).WithCode(engine.ErrCodeNamingPolicy)
	}
	v.logger.Debug().
		Str("resource_type", string(resourceType)).
		Str("name", name).
		Str("rule", rule).
		Msg("Name does not follow naming policy")
	return false, nil
}

func (v *Validator) pattern(policy NamingPolicy, env engine.Environment) (*regexp.Regexp, error) {
	key := string(policy.ResourceType) + "/" + string(env)

	v.mu.RLock()
	re, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := policy.Compile(env)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.compiled[key] = re
	v.mu.Unlock()
	return re, nil
}
