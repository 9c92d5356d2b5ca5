// Package policy validates resource names.
//
// A name is checked in two steps. First it must match the per-type pattern,
// which embeds the type prefix and the environment suffix (for example
// vm-payments-api-prod). Then the organisation rules written in Rego are
// evaluated with Open Policy Agent; the builtin naming-conventions policy
// enforces lowercase names, a maximum length per type and no doubled or
// trailing hyphens.
//
// # Usage
//
//	rules, err := policy.NewEngine(ctx, logger)
//	if err != nil {
//	    return err
//	}
//	v := policy.NewValidator(logger, policy.WithRules(rules))
//
//	ok, err := v.Validate(ctx, engine.ResourceTypeVirtualMachine, "vm-payments-prod",
//	    engine.EnvironmentProd, engine.NameModeStrict)
//
// In soft mode a mismatch returns false and no error. In strict mode it
// returns an engine.ValidationError carrying the rule and the name.
//
// # Custom Policies
//
// Extra policies are loaded from .rego or .json files and can be watched:
//
//	loader := policy.NewLoader(logger)
//	err := loader.Watch(ctx, []string{"/etc/provisioner/policies"}, rules.ReplacePolicies)
//
// A policy module declares a package and a deny set:
//
//	package acme.naming
//
//	import rego.v1
//
//	deny contains msg if {
//	    startswith(input.name, "vm-tmp")
//	    msg := "temporary machine names are reserved"
//	}
//
// The input document carries resource_type, name, environment, prefix and
// max_length.
package policy
