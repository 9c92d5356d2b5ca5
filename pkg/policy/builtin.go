package policy

import (
	"time"
)

// BuiltinPolicies returns the policies compiled into every engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		namingConventionsPolicy(),
	}
}

// namingConventionsPolicy holds the organisation-wide naming rules that sit
// on top of the per-type patterns.
func namingConventionsPolicy() Policy {
	return Policy{
		Name:        "naming-conventions",
		Description: "Lowercase names, per-type maximum length, no double or trailing hyphens",
		Severity:    SeverityError,
		Enabled:     true,
		LoadedAt:    time.Now(),
		Rego: `package provisioner.naming

import rego.v1

deny contains violation if {
	name := input.name
	lower(name) != name
	violation := {
		"message": sprintf("name '%s' must be lowercase", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.name
	input.max_length > 0
	count(name) > input.max_length
	violation := {
		"message": sprintf("name '%s' is longer than %d characters", [name, input.max_length]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.name
	regex.match("--", name)
	violation := {
		"message": sprintf("name '%s' must not contain consecutive hyphens", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.name
	endswith(name, "-")
	violation := {
		"message": sprintf("name '%s' must not end with a hyphen", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.name
	count(name) < 3
	violation := {
		"message": sprintf("name '%s' must be at least 3 characters long", [name]),
		"severity": "error",
	}
}
`,
	}
}
