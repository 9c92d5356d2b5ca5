package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResourceType identifies one of the provisionable resource kinds.
type ResourceType string

const (
	// ResourceTypeVirtualMachine is a compute virtual machine.
	ResourceTypeVirtualMachine ResourceType = "virtual_machine"

	// ResourceTypeWebApp is a web application host.
	ResourceTypeWebApp ResourceType = "web_app"

	// ResourceTypeStorageAccount is an object-storage account.
	ResourceTypeStorageAccount ResourceType = "storage_account"

	// ResourceTypeKeyVault is a secret store.
	ResourceTypeKeyVault ResourceType = "key_vault"
)

// AllResourceTypes returns every known resource type in a stable order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceTypeVirtualMachine,
		ResourceTypeWebApp,
		ResourceTypeStorageAccount,
		ResourceTypeKeyVault,
	}
}

// Validate checks if the resource type is known.
func (t ResourceType) Validate() error {
	switch t {
	case ResourceTypeVirtualMachine, ResourceTypeWebApp,
		ResourceTypeStorageAccount, ResourceTypeKeyVault:
		return nil
	default:
		return fmt.Errorf("invalid resource type: %s", t)
	}
}

// ConfigKey returns the segment used for this type in configuration paths
// (e.g. "VirtualMachine" in "Tiers.VirtualMachine.prod").
func (t ResourceType) ConfigKey() string {
	switch t {
	case ResourceTypeVirtualMachine:
		return "VirtualMachine"
	case ResourceTypeWebApp:
		return "WebApp"
	case ResourceTypeStorageAccount:
		return "StorageAccount"
	case ResourceTypeKeyVault:
		return "KeyVault"
	default:
		return string(t)
	}
}

// ProviderType returns the backend resource type string.
func (t ResourceType) ProviderType() string {
	switch t {
	case ResourceTypeVirtualMachine:
		return "Microsoft.Compute/virtualMachines"
	case ResourceTypeWebApp:
		return "Microsoft.Web/sites"
	case ResourceTypeStorageAccount:
		return "Microsoft.Storage/storageAccounts"
	case ResourceTypeKeyVault:
		return "Microsoft.KeyVault/vaults"
	default:
		return string(t)
	}
}

// Prefix returns the short naming prefix for the type.
func (t ResourceType) Prefix() string {
	switch t {
	case ResourceTypeVirtualMachine:
		return "vm"
	case ResourceTypeWebApp:
		return "app"
	case ResourceTypeStorageAccount:
		return "st"
	case ResourceTypeKeyVault:
		return "kv"
	default:
		return string(t)
	}
}

// resourceTypeAliases are the short names used on the command line.
var resourceTypeAliases = map[string]ResourceType{
	"storage": ResourceTypeStorageAccount,
	"vault":   ResourceTypeKeyVault,
}

// ParseResourceType accepts the canonical name, the config key, the prefix
// or a command line alias.
func ParseResourceType(s string) (ResourceType, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	if t, ok := resourceTypeAliases[needle]; ok {
		return t, nil
	}
	for _, t := range AllResourceTypes() {
		if needle == string(t) || needle == strings.ToLower(t.ConfigKey()) || needle == t.Prefix() {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid resource type: %s", s)
}

// Environment is the deployment environment a resource belongs to.
type Environment string

const (
	// EnvironmentDev is the development environment.
	EnvironmentDev Environment = "dev"

	// EnvironmentTest is the test environment.
	EnvironmentTest Environment = "test"

	// EnvironmentProd is the production environment.
	EnvironmentProd Environment = "prod"
)

// AllEnvironments returns every known environment.
func AllEnvironments() []Environment {
	return []Environment{EnvironmentDev, EnvironmentTest, EnvironmentProd}
}

// Validate checks if the environment is valid.
func (e Environment) Validate() error {
	switch e {
	case EnvironmentDev, EnvironmentTest, EnvironmentProd:
		return nil
	default:
		return fmt.Errorf("invalid environment: %s", e)
	}
}

// ParseEnvironment parses an environment name case-insensitively.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if err := env.Validate(); err != nil {
		return "", err
	}
	return env, nil
}

// DeploymentState is the terminal state reported by the deployment backend.
type DeploymentState string

const (
	// DeploymentSucceeded indicates the deployment completed.
	DeploymentSucceeded DeploymentState = "Succeeded"

	// DeploymentFailed indicates the backend failed the deployment.
	DeploymentFailed DeploymentState = "Failed"

	// DeploymentSkipped indicates the backend did not run the deployment.
	DeploymentSkipped DeploymentState = "Skipped"
)

// Validate checks if the deployment state is valid.
func (s DeploymentState) Validate() error {
	switch s {
	case DeploymentSucceeded, DeploymentFailed, DeploymentSkipped:
		return nil
	default:
		return fmt.Errorf("invalid deployment state: %s", s)
	}
}

// State is a step of the provisioning state machine.
type State string

const (
	StateValidating          State = "Validating"
	StateResolving           State = "Resolving"
	StateCheckingIdempotency State = "CheckingIdempotency"
	StateDeploying           State = "Deploying"
	StateReturningExisting   State = "ReturningExisting"
	StateAborted             State = "Aborted"
	StateCompleted           State = "Completed"
	StateFailed              State = "Failed"
)

// IsTerminal returns true if the state ends an invocation.
// ReturningExisting is terminal and successful, distinct from Completed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateReturningExisting
}

// IsSuccess returns true for the successful terminal states.
func (s State) IsSuccess() bool {
	return s == StateCompleted || s == StateReturningExisting
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StateValidating:
		return next == StateResolving || next == StateFailed
	case StateResolving:
		return next == StateCheckingIdempotency || next == StateFailed
	case StateCheckingIdempotency:
		return next == StateDeploying || next == StateReturningExisting ||
			next == StateAborted || next == StateFailed
	case StateDeploying:
		return next == StateCompleted || next == StateFailed
	case StateAborted:
		return next == StateFailed
	default:
		return false
	}
}

// DecisionKind is the verdict of the idempotency gate.
type DecisionKind string

const (
	// DecisionProceed lets the deployment run (create or update).
	DecisionProceed DecisionKind = "proceed"

	// DecisionReturnExisting short-circuits with the resource already present.
	DecisionReturnExisting DecisionKind = "return_existing"

	// DecisionAbort stops the invocation; the caller raises a conflict.
	DecisionAbort DecisionKind = "abort"
)

// NameMode selects how a naming policy mismatch is reported.
type NameMode string

const (
	// NameModeSoft reports a mismatch as false and lets the caller decide.
	NameModeSoft NameMode = "soft"

	// NameModeStrict reports a mismatch as a ValidationError.
	NameModeStrict NameMode = "strict"
)

// EventKind classifies entries written to the event sink.
type EventKind string

const (
	EventProvisioningStarted   EventKind = "provisioning.started"
	EventNameValidated         EventKind = "name.validated"
	EventNamePolicyWarning     EventKind = "name.policy_warning"
	EventConfigResolved        EventKind = "config.resolved"
	EventIdempotencyDecided    EventKind = "idempotency.decided"
	EventDeploymentStarted     EventKind = "deployment.started"
	EventDeploymentRetry       EventKind = "deployment.retry"
	EventDeploymentCompleted   EventKind = "deployment.completed"
	EventProvisioningCompleted EventKind = "provisioning.completed"
	EventReturnedExisting      EventKind = "provisioning.returned_existing"
	EventProvisioningFailed    EventKind = "provisioning.failed"
)

// Level returns the severity level of the event kind.
func (k EventKind) Level() string {
	switch k {
	case EventProvisioningFailed:
		return "error"
	case EventDeploymentRetry, EventNamePolicyWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch State(str) {
	case StateValidating, StateResolving, StateCheckingIdempotency, StateDeploying,
		StateReturningExisting, StateAborted, StateCompleted, StateFailed:
		*s = State(str)
		return nil
	default:
		return fmt.Errorf("invalid state: %s", str)
	}
}
