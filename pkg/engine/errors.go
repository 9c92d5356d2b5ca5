package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Category is the closed set of failure kinds the kernel raises.
type Category string

const (
	// CategoryValidation indicates a request failed input or naming checks.
	CategoryValidation Category = "ValidationError"

	// CategoryResourceExists indicates the target already exists and strict mode forbids reuse.
	CategoryResourceExists Category = "ResourceExistsError"

	// CategoryDependency indicates a prerequisite resource is missing or unusable.
	CategoryDependency Category = "DependencyError"

	// CategoryNetworkConfiguration indicates the referenced network is not usable.
	CategoryNetworkConfiguration Category = "NetworkConfigurationError"

	// CategoryAuthorization indicates the caller lacks a required permission.
	CategoryAuthorization Category = "AuthorizationError"

	// CategoryProvisioningFailed indicates the backend failed the deployment,
	// or an unrecognised error was normalized.
	CategoryProvisioningFailed Category = "ProvisioningFailedError"

	// CategoryTransient indicates a temporary failure that may succeed on retry.
	CategoryTransient Category = "TransientError"
)

// Validate checks if the category is one of the seven known kinds.
func (c Category) Validate() error {
	switch c {
	case CategoryValidation, CategoryResourceExists, CategoryDependency,
		CategoryNetworkConfiguration, CategoryAuthorization,
		CategoryProvisioningFailed, CategoryTransient:
		return nil
	default:
		return fmt.Errorf("invalid error category: %q", string(c))
	}
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNamingPolicy     = "NAMING_POLICY"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
	ErrCodeNetworkConfig    = "NETWORK_CONFIGURATION"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeDeploymentFailed = "DEPLOYMENT_FAILED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeCanceled         = "CANCELED"
	ErrCodeUnknown          = "UnknownError"
)

// Detail is the category-specific payload of a ProvisioningError.
// The set of implementations is closed to this package.
type Detail interface {
	category() Category
}

// ValidationDetail describes which rule rejected which value.
type ValidationDetail struct {
	Rule          string      `json:"rule,omitempty"`
	ProvidedValue interface{} `json:"provided_value,omitempty"`
}

// ResourceExistsDetail describes the resource found by the idempotency gate.
type ResourceExistsDetail struct {
	ResourceID    string `json:"resource_id,omitempty"`
	ExistingState string `json:"existing_state,omitempty"`
}

// DependencyDetail describes a missing or unusable prerequisite.
type DependencyDetail struct {
	DependencyType  string `json:"dependency_type,omitempty"`
	DependencyName  string `json:"dependency_name,omitempty"`
	DependencyState string `json:"dependency_state,omitempty"`
}

// NetworkConfigurationDetail describes a network that is not usable.
type NetworkConfigurationDetail struct {
	NetworkResource string `json:"network_resource,omitempty"`
	Detail          string `json:"detail,omitempty"`
}

// AuthorizationDetail describes a missing permission.
type AuthorizationDetail struct {
	Principal          string `json:"principal,omitempty"`
	RequiredPermission string `json:"required_permission,omitempty"`
}

// ProvisioningFailedDetail describes a failed deployment.
type ProvisioningFailedDetail struct {
	ProvisioningState string `json:"provisioning_state,omitempty"`
	DeploymentID      string `json:"deployment_id,omitempty"`
	ErrorDetails      string `json:"error_details,omitempty"`
}

// TransientDetail describes a temporary failure and how often it was retried.
type TransientDetail struct {
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
	AttemptCount int           `json:"attempt_count,omitempty"`
}

func (ValidationDetail) category() Category           { return CategoryValidation }
func (ResourceExistsDetail) category() Category       { return CategoryResourceExists }
func (DependencyDetail) category() Category           { return CategoryDependency }
func (NetworkConfigurationDetail) category() Category { return CategoryNetworkConfiguration }
func (AuthorizationDetail) category() Category        { return CategoryAuthorization }
func (ProvisioningFailedDetail) category() Category   { return CategoryProvisioningFailed }
func (TransientDetail) category() Category            { return CategoryTransient }

// ProvisioningError is the single error type raised by the provisioning kernel.
// Category discriminates the kind and Detail carries its payload. Values are
// never mutated once constructed; the With* methods return modified copies.
type ProvisioningError struct {
	// Category is the kind of failure. Never empty.
	Category Category `json:"category"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// ResourceType is the type of resource being provisioned.
	ResourceType ResourceType `json:"resource_type,omitempty"`

	// ResourceName is the name of the resource being provisioned.
	ResourceName string `json:"resource_name,omitempty"`

	// Timestamp is when the error was constructed.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID links the error to a backend deployment, if known.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Retryable is fixed at construction from the category and cause.
	Retryable bool `json:"retryable"`

	// State is the orchestrator state the invocation finished in.
	State State `json:"state,omitempty"`

	// Detail is the category-specific payload.
	Detail Detail `json:"detail,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

func newError(detail Detail, message string, resourceType ResourceType, resourceName string, cause error) *ProvisioningError {
	e := &ProvisioningError{
		Category:     detail.category(),
		Message:      message,
		ResourceType: resourceType,
		ResourceName: resourceName,
		Timestamp:    time.Now().UTC(),
		Detail:       detail,
		Err:          cause,
	}
	e.Retryable = e.computeRetryable()
	return e
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, resourceType ResourceType, resourceName string, detail ValidationDetail) *ProvisioningError {
	e := newError(detail, message, resourceType, resourceName, nil)
	e.Code = ErrCodeValidation
	return e
}

// NewResourceExistsError creates a new resource-exists error.
func NewResourceExistsError(message string, resourceType ResourceType, resourceName string, detail ResourceExistsDetail) *ProvisioningError {
	e := newError(detail, message, resourceType, resourceName, nil)
	e.Code = ErrCodeAlreadyExists
	return e
}

// NewDependencyError creates a new dependency error.
func NewDependencyError(message string, resourceType ResourceType, resourceName string, detail DependencyDetail) *ProvisioningError {
	e := newError(detail, message, resourceType, resourceName, nil)
	e.Code = ErrCodeDependencyFailed
	return e
}

// NewNetworkConfigurationError creates a new network configuration error.
func NewNetworkConfigurationError(message string, resourceType ResourceType, resourceName string, detail NetworkConfigurationDetail) *ProvisioningError {
	e := newError(detail, message, resourceType, resourceName, nil)
	e.Code = ErrCodeNetworkConfig
	return e
}

// NewAuthorizationError creates a new authorization error.
func NewAuthorizationError(message string, resourceType ResourceType, resourceName string, detail AuthorizationDetail) *ProvisioningError {
	e := newError(detail, message, resourceType, resourceName, nil)
	e.Code = ErrCodePermissionDenied
	return e
}

// NewProvisioningFailedError creates a new provisioning failure.
func NewProvisioningFailedError(message string, resourceType ResourceType, resourceName string, detail ProvisioningFailedDetail) *ProvisioningError {
	e := newError(detail, message, resourceType, resourceName, nil)
	e.Code = ErrCodeDeploymentFailed
	return e
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, resourceType ResourceType, resourceName string, detail TransientDetail) *ProvisioningError {
	return newError(detail, message, resourceType, resourceName, nil)
}

// Error implements the error interface.
func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Category, e.Message)
	if e.ResourceName != "" {
		msg = fmt.Sprintf("%s (resource_type=%s, resource=%s)", msg, e.ResourceType, e.ResourceName)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// A target with an empty Code matches any error of the same category.
func (e *ProvisioningError) Is(target error) bool {
	t, ok := target.(*ProvisioningError)
	if !ok {
		return false
	}
	if e.Category != t.Category {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

func (e *ProvisioningError) computeRetryable() bool {
	switch e.Category {
	case CategoryTransient:
		return true
	case CategoryProvisioningFailed:
		return e.Err != nil && defaultClassifier.IsTransient(e.Err)
	default:
		return false
	}
}

func (e *ProvisioningError) clone() *ProvisioningError {
	c := *e
	return &c
}

// WithCause returns a copy wrapping cause.
func (e *ProvisioningError) WithCause(cause error) *ProvisioningError {
	c := e.clone()
	c.Err = cause
	c.Retryable = c.computeRetryable()
	return c
}

// WithCode returns a copy carrying code.
func (e *ProvisioningError) WithCode(code string) *ProvisioningError {
	c := e.clone()
	c.Code = code
	return c
}

// WithCorrelationID returns a copy carrying the backend correlation id.
func (e *ProvisioningError) WithCorrelationID(id string) *ProvisioningError {
	c := e.clone()
	c.CorrelationID = id
	return c
}

// WithState returns a copy recording the final orchestrator state.
func (e *ProvisioningError) WithState(state State) *ProvisioningError {
	c := e.clone()
	c.State = state
	return c
}

// WithResource returns a copy with resource context filled where it was empty.
func (e *ProvisioningError) WithResource(resourceType ResourceType, resourceName string) *ProvisioningError {
	if (e.ResourceType != "" || resourceType == "") && (e.ResourceName != "" || resourceName == "") {
		return e
	}
	c := e.clone()
	if c.ResourceType == "" {
		c.ResourceType = resourceType
	}
	if c.ResourceName == "" {
		c.ResourceName = resourceName
	}
	return c
}

// WithAttemptCount returns a copy of a transient error recording the attempt count.
// Errors of other categories are returned unchanged.
func (e *ProvisioningError) WithAttemptCount(attempts int) *ProvisioningError {
	d, ok := e.Detail.(TransientDetail)
	if !ok {
		return e
	}
	d.AttemptCount = attempts
	c := e.clone()
	c.Detail = d
	return c
}

// RetryAfter returns the retry hint carried by a transient error.
func (e *ProvisioningError) RetryAfter() time.Duration {
	if d, ok := e.Detail.(TransientDetail); ok {
		return d.RetryAfter
	}
	return 0
}

// Fields returns the structured log fields for the error.
func (e *ProvisioningError) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"category":  string(e.Category),
		"retryable": e.Retryable,
	}
	if e.Code != "" {
		fields["code"] = e.Code
	}
	if e.ResourceType != "" {
		fields["resource_type"] = string(e.ResourceType)
	}
	if e.ResourceName != "" {
		fields["resource_name"] = e.ResourceName
	}
	if e.CorrelationID != "" {
		fields["correlation_id"] = e.CorrelationID
	}
	if e.State != "" {
		fields["state"] = string(e.State)
	}
	switch d := e.Detail.(type) {
	case ValidationDetail:
		fields["rule"] = d.Rule
		fields["provided_value"] = d.ProvidedValue
	case ResourceExistsDetail:
		fields["resource_id"] = d.ResourceID
		fields["existing_state"] = d.ExistingState
	case DependencyDetail:
		fields["dependency_type"] = d.DependencyType
		fields["dependency_name"] = d.DependencyName
		fields["dependency_state"] = d.DependencyState
	case NetworkConfigurationDetail:
		fields["network_resource"] = d.NetworkResource
		fields["network_detail"] = d.Detail
	case AuthorizationDetail:
		fields["principal"] = d.Principal
		fields["required_permission"] = d.RequiredPermission
	case ProvisioningFailedDetail:
		fields["provisioning_state"] = d.ProvisioningState
		fields["deployment_id"] = d.DeploymentID
		fields["error_details"] = d.ErrorDetails
	case TransientDetail:
		fields["retry_after"] = d.RetryAfter.String()
		fields["attempt_count"] = d.AttemptCount
	}
	return fields
}

// Sentinels for errors.Is matching by category.
var (
	ErrValidation           = &ProvisioningError{Category: CategoryValidation}
	ErrResourceExists       = &ProvisioningError{Category: CategoryResourceExists}
	ErrDependency           = &ProvisioningError{Category: CategoryDependency}
	ErrNetworkConfiguration = &ProvisioningError{Category: CategoryNetworkConfiguration}
	ErrAuthorization        = &ProvisioningError{Category: CategoryAuthorization}
	ErrProvisioningFailed   = &ProvisioningError{Category: CategoryProvisioningFailed}
	ErrTransient            = &ProvisioningError{Category: CategoryTransient}
)

// AsProvisioningError extracts the outermost ProvisioningError from err's chain.
func AsProvisioningError(err error) (*ProvisioningError, bool) {
	var e *ProvisioningError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CategoryOf returns the category of err, or "" if it is not a taxonomy error.
func CategoryOf(err error) Category {
	if e, ok := AsProvisioningError(err); ok {
		return e.Category
	}
	return ""
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return CategoryOf(err) == CategoryTransient
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool {
	return CategoryOf(err) == CategoryValidation
}

// IsResourceExists returns true if the error is a resource-exists error.
func IsResourceExists(err error) bool {
	return CategoryOf(err) == CategoryResourceExists
}

// IsDependency returns true if the error is a dependency error.
func IsDependency(err error) bool {
	return CategoryOf(err) == CategoryDependency
}

// IsAuthorization returns true if the error is an authorization error.
func IsAuthorization(err error) bool {
	return CategoryOf(err) == CategoryAuthorization
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	if e, ok := AsProvisioningError(err); ok {
		return e.Retryable
	}
	return false
}

// Normalize converts any error into a ProvisioningError. Taxonomy errors pass
// through with missing resource context filled in; anything else becomes a
// ProvisioningFailedError with code UnknownError wrapping the original.
func Normalize(err error, resourceType ResourceType, resourceName string) *ProvisioningError {
	if err == nil {
		return nil
	}
	if e, ok := AsProvisioningError(err); ok {
		return e.WithResource(resourceType, resourceName)
	}
	e := newError(ProvisioningFailedDetail{ErrorDetails: err.Error()},
		"unexpected provisioning failure", resourceType, resourceName, err)
	e.Code = ErrCodeUnknown
	return e
}

// ReportMode selects whether Report propagates or swallows the error.
type ReportMode string

const (
	// ReportRaise logs the error and returns it.
	ReportRaise ReportMode = "raise"

	// ReportSwallow logs the error and returns nil.
	ReportSwallow ReportMode = "swallow"
)

// Report logs err with its structured fields and then, per mode, returns the
// normalized error or nil.
func Report(logger zerolog.Logger, err error, mode ReportMode) error {
	if err == nil {
		return nil
	}
	e := Normalize(err, "", "")
	event := logger.Error()
	if mode == ReportSwallow {
		event = logger.Warn()
	}
	event.Err(e.Err).Fields(e.Fields()).Msg(e.Message)
	if mode == ReportSwallow {
		return nil
	}
	return e
}
