package engine

import (
	"context"
)

// Backend is the declarative deployment provider. Lookups return (nil, nil)
// when the target does not exist; every other failure is a provider error
// classified by the Classifier.
type Backend interface {
	// GetResourceGroup returns the named resource group.
	GetResourceGroup(ctx context.Context, name string) (*ResourceGroupInfo, error)

	// GetResource returns the named resource of the given type in a group.
	GetResource(ctx context.Context, resourceType ResourceType, group, name string) (*ResourceInfo, error)

	// GetVirtualNetwork returns the named virtual network in a group.
	GetVirtualNetwork(ctx context.Context, group, name string) (*NetworkInfo, error)

	// Deploy submits a template deployment and waits for its terminal state.
	Deploy(ctx context.Context, req DeploymentRequest) (*DeploymentOutcome, error)
}

// EventSink is the append-only event store the orchestrator writes to.
// Implementations synchronize internally.
type EventSink interface {
	// Append records an event.
	Append(ctx context.Context, event Event) error
}

// EventQuerier reads back recorded events, newest first.
type EventQuerier interface {
	// Events returns events matching filter.
	Events(ctx context.Context, filter EventFilter) ([]Event, error)
}

// NameValidator applies naming policy to a proposed resource name.
type NameValidator interface {
	// Validate reports whether name satisfies the policy for resourceType in
	// environment. In strict mode a mismatch is a ValidationError.
	Validate(ctx context.Context, resourceType ResourceType, name string, environment Environment, mode NameMode) (bool, error)
}

// ConfigSource resolves defaults from layered configuration.
type ConfigSource interface {
	// DefaultTier returns the configured tier for resourceType in env.
	DefaultTier(resourceType ResourceType, env Environment) (string, bool)

	// DefaultRegion returns the configured region for env.
	DefaultRegion(env Environment) (string, bool)

	// Template returns the deployment template reference for resourceType.
	Template(resourceType ResourceType) (string, bool)
}

// RunRecorder persists the history of orchestrator invocations.
type RunRecorder interface {
	// StartRun records a new run.
	StartRun(ctx context.Context, run *Run) error

	// FinishRun records the final state of a run.
	FinishRun(ctx context.Context, run *Run) error
}
