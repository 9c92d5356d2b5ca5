package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/stores"
	"github.com/rs/zerolog"
)

// Store is the subset of stores.Store the sandbox backend needs.
type Store interface {
	GetResourceGroup(ctx context.Context, name string) (*engine.ResourceGroupInfo, error)
	UpsertResourceGroup(ctx context.Context, group *engine.ResourceGroupInfo) error
	GetVirtualNetwork(ctx context.Context, group, name string) (*engine.NetworkInfo, error)
	UpsertVirtualNetwork(ctx context.Context, network *engine.NetworkInfo) error
	GetResource(ctx context.Context, resourceType engine.ResourceType, group, name string) (*engine.ResourceInfo, error)
	UpsertResource(ctx context.Context, resource *engine.ResourceInfo) error
	RecordDeployment(ctx context.Context, d *stores.Deployment) error
}

// Faults injects failures into the sandbox so retry and failure paths can be
// exercised without a cloud provider.
type Faults struct {
	// TransientDeploys fails this many Deploy calls with a 503 before
	// letting one through.
	TransientDeploys int `yaml:"transient_deploys" json:"transient_deploys"`

	// TransientLookups fails this many GetResource calls with a 429.
	TransientLookups int `yaml:"transient_lookups" json:"transient_lookups"`

	// RetryAfter is the hint carried on injected throttling responses.
	RetryAfter time.Duration `yaml:"retry_after" json:"retry_after"`

	// DeploymentState overrides the terminal state of successful deploys.
	DeploymentState engine.DeploymentState `yaml:"deployment_state" json:"deployment_state"`

	// Forbidden makes every Deploy fail with a 403.
	Forbidden bool `yaml:"forbidden" json:"forbidden"`
}

// Backend is an engine.Backend that deploys into the local SQLite inventory.
// Deployments complete synchronously.
type Backend struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	faults Faults
}

var _ engine.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger.With().Str("component", "local-backend").Logger()
	}
}

// WithFaults sets the fault plan.
func WithFaults(f Faults) Option {
	return func(b *Backend) {
		b.faults = f
	}
}

// WithClock sets the clock used for deployment timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a sandbox backend over store.
func New(store Store, opts ...Option) *Backend {
	b := &Backend{
		store:  store,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetResourceGroup returns the named resource group.
func (b *Backend) GetResourceGroup(ctx context.Context, name string) (*engine.ResourceGroupInfo, error) {
	return b.store.GetResourceGroup(ctx, name)
}

// GetVirtualNetwork returns the named virtual network.
func (b *Backend) GetVirtualNetwork(ctx context.Context, group, name string) (*engine.NetworkInfo, error) {
	return b.store.GetVirtualNetwork(ctx, group, name)
}

// GetResource returns the named resource.
func (b *Backend) GetResource(ctx context.Context, resourceType engine.ResourceType, group, name string) (*engine.ResourceInfo, error) {
	if retryAfter, ok := b.takeFault(&b.faults.TransientLookups); ok {
		b.logger.Debug().Str("name", name).Msg("Injecting throttled lookup")
		return nil, &engine.StatusError{
			StatusCode: http.StatusTooManyRequests,
			Code:       "TooManyRequests",
			Message:    "sandbox lookup throttled",
			RetryAfter: retryAfter,
		}
	}
	return b.store.GetResource(ctx, resourceType, group, name)
}

// Deploy records the resource and a deployment entry, then reports the
// terminal state.
func (b *Backend) Deploy(ctx context.Context, req engine.DeploymentRequest) (*engine.DeploymentOutcome, error) {
	log := b.logger.With().
		Str("deployment", req.Name).
		Str("resource_type", string(req.ResourceType)).
		Str("resource_name", req.ResourceName).
		Logger()

	if b.forbidden() {
		return nil, &engine.StatusError{
			StatusCode: http.StatusForbidden,
			Code:       "AuthorizationFailed",
			Message:    fmt.Sprintf("not allowed to deploy %s in %s", req.ResourceType.ProviderType(), req.ResourceGroup),
		}
	}
	if retryAfter, ok := b.takeFault(&b.faults.TransientDeploys); ok {
		log.Debug().Msg("Injecting unavailable deployment")
		return nil, &engine.StatusError{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "ServiceUnavailable",
			Message:    "sandbox deployment service unavailable",
			RetryAfter: retryAfter,
		}
	}

	group, err := b.store.GetResourceGroup(ctx, req.ResourceGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource group: %w", err)
	}
	if group == nil {
		return nil, &engine.StatusError{
			StatusCode: http.StatusNotFound,
			Code:       "ResourceGroupNotFound",
			Message:    fmt.Sprintf("resource group %s could not be found", req.ResourceGroup),
		}
	}

	params, err := json.Marshal(req.Parameters)
	if err != nil {
		return nil, &engine.StatusError{
			StatusCode: http.StatusBadRequest,
			Code:       "InvalidTemplateParameters",
			Message:    err.Error(),
		}
	}

	correlationID := uuid.New().String()
	state := b.terminalState()

	deployment := &stores.Deployment{
		Name:          req.Name,
		ResourceType:  req.ResourceType,
		ResourceGroup: req.ResourceGroup,
		Template:      req.Template,
		Parameters:    string(params),
		State:         state,
		CorrelationID: correlationID,
		CreatedAt:     b.now().UTC(),
	}

	outcome := &engine.DeploymentOutcome{
		State:         state,
		CorrelationID: correlationID,
	}

	if state == engine.DeploymentSucceeded {
		resource := &engine.ResourceInfo{
			Type:              req.ResourceType,
			Name:              req.ResourceName,
			ResourceGroup:     req.ResourceGroup,
			Location:          req.Location,
			Tier:              req.Tier,
			ProvisioningState: string(engine.DeploymentSucceeded),
			Properties:        req.Parameters.Map(),
		}
		if resource.Location == "" {
			resource.Location = group.Location
		}
		if err := b.store.UpsertResource(ctx, resource); err != nil {
			return nil, fmt.Errorf("failed to store resource: %w", err)
		}
		deployment.ResourceID = resource.ID
		outcome.Outputs = map[string]interface{}{
			"resourceId": resource.ID,
			"location":   resource.Location,
		}
	} else {
		deployment.Error = fmt.Sprintf("deployment finished in state %s", state)
		outcome.ErrorDetails = deployment.Error
	}

	if err := b.store.RecordDeployment(ctx, deployment); err != nil {
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}

	log.Info().
		Str("state", string(state)).
		Str("correlation_id", correlationID).
		Msg("Deployment finished")

	return outcome, nil
}

// CreateResourceGroup creates or updates a resource group in the sandbox.
func (b *Backend) CreateResourceGroup(ctx context.Context, name, location string, tags map[string]string) (*engine.ResourceGroupInfo, error) {
	if name == "" || location == "" {
		return nil, fmt.Errorf("resource group name and location are required")
	}
	group := &engine.ResourceGroupInfo{Name: name, Location: location, Tags: tags}
	if err := b.store.UpsertResourceGroup(ctx, group); err != nil {
		return nil, err
	}
	b.logger.Info().Str("resource_group", name).Str("location", location).Msg("Resource group created")
	return group, nil
}

// CreateVirtualNetwork creates or updates a virtual network in the sandbox.
// An empty state means Succeeded.
func (b *Backend) CreateVirtualNetwork(ctx context.Context, network *engine.NetworkInfo) error {
	group, err := b.store.GetResourceGroup(ctx, network.ResourceGroup)
	if err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("resource group %s does not exist", network.ResourceGroup)
	}
	if network.Location == "" {
		network.Location = group.Location
	}
	if network.ProvisioningState == "" {
		network.ProvisioningState = string(engine.DeploymentSucceeded)
	}
	if err := b.store.UpsertVirtualNetwork(ctx, network); err != nil {
		return err
	}
	b.logger.Info().
		Str("resource_group", network.ResourceGroup).
		Str("network", network.Name).
		Str("state", network.ProvisioningState).
		Msg("Virtual network created")
	return nil
}

// SetFaults replaces the fault plan.
func (b *Backend) SetFaults(f Faults) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = f
}

func (b *Backend) takeFault(counter *int) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if *counter <= 0 {
		return 0, false
	}
	*counter--
	return b.faults.RetryAfter, true
}

func (b *Backend) forbidden() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faults.Forbidden
}

func (b *Backend) terminalState() engine.DeploymentState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.faults.DeploymentState != "" {
		return b.faults.DeploymentState
	}
	return engine.DeploymentSucceeded
}
