package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Parameter is a single named deployment parameter.
type Parameter struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// Parameters is an ordered, immutable parameter bag. The zero value is empty.
type Parameters struct {
	items []Parameter
}

// NewParameters builds a parameter bag from pairs. Later duplicates replace
// earlier ones in place.
func NewParameters(pairs ...Parameter) Parameters {
	var p Parameters
	for _, kv := range pairs {
		p = p.With(kv.Name, kv.Value)
	}
	return p
}

// Get returns the value of name.
func (p Parameters) Get(name string) (interface{}, bool) {
	for _, kv := range p.items {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return nil, false
}

// GetString returns the value of name when it is a non-empty string.
func (p Parameters) GetString(name string) (string, bool) {
	v, ok := p.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// With returns a copy of the bag with name set to value.
func (p Parameters) With(name string, value interface{}) Parameters {
	items := make([]Parameter, len(p.items), len(p.items)+1)
	copy(items, p.items)
	for i := range items {
		if items[i].Name == name {
			items[i].Value = value
			return Parameters{items: items}
		}
	}
	return Parameters{items: append(items, Parameter{Name: name, Value: value})}
}

// Len returns the number of parameters.
func (p Parameters) Len() int {
	return len(p.items)
}

// Items returns a copy of the parameters in insertion order.
func (p Parameters) Items() []Parameter {
	out := make([]Parameter, len(p.items))
	copy(out, p.items)
	return out
}

// Map returns the parameters as a new map.
func (p Parameters) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(p.items))
	for _, kv := range p.items {
		m[kv.Name] = kv.Value
	}
	return m
}

// MarshalJSON encodes the bag as a JSON object preserving insertion order.
func (p Parameters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range p.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal parameter %s: %w", kv.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ResourceRequest describes one resource to provision. It is passed by value
// and its parameter bag is immutable, so a request cannot change while an
// invocation is running.
type ResourceRequest struct {
	// ResourceType is the kind of resource to provision.
	ResourceType ResourceType `json:"resource_type" validate:"required"`

	// Name is the requested resource name.
	Name string `json:"name"`

	// ResourceGroup is the container the resource is deployed into.
	ResourceGroup string `json:"resource_group" validate:"required"`

	// Environment is the target environment.
	Environment Environment `json:"environment" validate:"required"`

	// Department is an optional owning department, used in tags.
	Department string `json:"department,omitempty"`

	// Location is the explicit region. Empty or "default" defers to configuration.
	Location string `json:"location,omitempty"`

	// Tier is the explicit sku or tier. Empty or "default" defers to configuration.
	Tier string `json:"tier,omitempty"`

	// Parameters are template parameters.
	Parameters Parameters `json:"parameters"`
}

var requestValidator = validator.New()

// NewResourceRequest validates and returns a request. The name is not checked
// here; naming policy is applied by the orchestrator.
func NewResourceRequest(req ResourceRequest) (ResourceRequest, error) {
	if err := requestValidator.Struct(req); err != nil {
		return ResourceRequest{}, NewValidationError(
			fmt.Sprintf("invalid request: %v", err), req.ResourceType, req.Name,
			ValidationDetail{Rule: "request", ProvidedValue: req.ResourceGroup})
	}
	if err := req.ResourceType.Validate(); err != nil {
		return ResourceRequest{}, NewValidationError(err.Error(), req.ResourceType, req.Name,
			ValidationDetail{Rule: "resource_type", ProvidedValue: string(req.ResourceType)})
	}
	if err := req.Environment.Validate(); err != nil {
		return ResourceRequest{}, NewValidationError(err.Error(), req.ResourceType, req.Name,
			ValidationDetail{Rule: "environment", ProvidedValue: string(req.Environment)})
	}
	req.Parameters = NewParameters(req.Parameters.Items()...)
	return req, nil
}

// Path returns the event path of the request, "<type>/<group>/<name>".
func (r ResourceRequest) Path() string {
	return fmt.Sprintf("%s/%s/%s", r.ResourceType, r.ResourceGroup, r.Name)
}

// ResourceGroupInfo is a resource group as reported by the backend.
type ResourceGroupInfo struct {
	Name     string            `json:"name"`
	Location string            `json:"location"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// ResourceInfo is a resource as reported by the backend.
type ResourceInfo struct {
	// ID is the backend resource identifier.
	ID string `json:"id"`

	// Type is the kind of resource.
	Type ResourceType `json:"type"`

	// Name is the resource name.
	Name string `json:"name"`

	// ResourceGroup is the containing resource group.
	ResourceGroup string `json:"resource_group"`

	// Location is the region the resource lives in.
	Location string `json:"location,omitempty"`

	// Tier is the sku or tier of the resource.
	Tier string `json:"tier,omitempty"`

	// ProvisioningState is the backend provisioning state, e.g. "Succeeded".
	ProvisioningState string `json:"provisioning_state,omitempty"`

	// Properties are backend-specific attributes.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// NetworkInfo is a virtual network as reported by the backend.
type NetworkInfo struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	ResourceGroup     string   `json:"resource_group"`
	Location          string   `json:"location,omitempty"`
	AddressSpace      []string `json:"address_space,omitempty"`
	ProvisioningState string   `json:"provisioning_state,omitempty"`
}

// DeploymentRequest is the input to Backend.Deploy.
type DeploymentRequest struct {
	ResourceType  ResourceType `json:"resource_type"`
	ResourceName  string       `json:"resource_name"`
	ResourceGroup string       `json:"resource_group"`
	Name          string       `json:"name"`
	Template      string       `json:"template"`
	Location      string       `json:"location"`
	Tier          string       `json:"tier,omitempty"`
	Parameters    Parameters   `json:"parameters"`
}

// DeploymentOutcome is the terminal report of a deployment.
type DeploymentOutcome struct {
	// State is the terminal state of the deployment.
	State DeploymentState `json:"state"`

	// Outputs are the template outputs.
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// CorrelationID is the backend's identifier for the deployment.
	CorrelationID string `json:"correlation_id"`

	// ErrorDetails describes a failure, if any.
	ErrorDetails string `json:"error_details,omitempty"`
}

// RetryPolicy bounds retries of one activity.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts"`

	// BaseDelay is the delay before the second attempt. It doubles per retry.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration `json:"max_delay,omitempty"`

	// ActivityLabel names the activity in logs.
	ActivityLabel string `json:"activity_label"`
}

// DefaultRetryPolicy returns the default policy for label: 3 attempts from 1s.
func DefaultRetryPolicy(label string) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		ActivityLabel: label,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max delay must not be negative, got %s", p.MaxDelay)
	}
	return nil
}

// WithLabel returns a copy of the policy with a different activity label.
func (p RetryPolicy) WithLabel(label string) RetryPolicy {
	p.ActivityLabel = label
	return p
}

// Backoff returns the delay after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay when set.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	d := p.BaseDelay << uint(shift)
	if d < p.BaseDelay {
		d = p.BaseDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// IdempotencyOutcome records what the gate decided for a Result.
type IdempotencyOutcome string

const (
	// OutcomeCreated means no resource existed and one was deployed.
	OutcomeCreated IdempotencyOutcome = "created"

	// OutcomeUpdated means an existing resource was redeployed.
	OutcomeUpdated IdempotencyOutcome = "updated"

	// OutcomeExisting means the existing resource was returned unchanged.
	OutcomeExisting IdempotencyOutcome = "existing"
)

// Result is the normalized output of a successful provisioning invocation.
type Result struct {
	ResourceID     string                 `json:"resource_id"`
	ResourceType   ResourceType           `json:"resource_type"`
	Name           string                 `json:"name"`
	ResourceGroup  string                 `json:"resource_group"`
	Location       string                 `json:"location"`
	Tier           string                 `json:"tier,omitempty"`
	Idempotency    IdempotencyOutcome     `json:"idempotency"`
	NameCompliant  bool                   `json:"name_compliant"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	DeploymentName string                 `json:"deployment_name,omitempty"`
	Outputs        map[string]interface{} `json:"outputs,omitempty"`
	State          State                  `json:"state"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Event is an entry in the append-only event store.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Kind is the type of event.
	Kind EventKind `json:"kind"`

	// Path identifies the resource, "<type>/<group>/<name>".
	Path string `json:"path"`

	// Payload contains event-specific data.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// EventFilter represents criteria for querying events.
type EventFilter struct {
	// Kinds filters events by kind.
	Kinds []EventKind `json:"kinds,omitempty"`

	// PathPrefix filters events whose path starts with the prefix.
	PathPrefix string `json:"path_prefix,omitempty"`

	// Limit caps the number of events returned. Zero means no limit.
	Limit int `json:"limit,omitempty"`
}

// RunStatus is the outcome of a recorded invocation.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the history record of one orchestrator invocation.
type Run struct {
	ID             string       `json:"id"`
	ResourceType   ResourceType `json:"resource_type"`
	ResourceName   string       `json:"resource_name"`
	ResourceGroup  string       `json:"resource_group"`
	Environment    Environment  `json:"environment"`
	Status         RunStatus    `json:"status"`
	State          State        `json:"state"`
	ErrorCategory  Category     `json:"error_category,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CorrelationID  string       `json:"correlation_id,omitempty"`
	DeploymentName string       `json:"deployment_name,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}
