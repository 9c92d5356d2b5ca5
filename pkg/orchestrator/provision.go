package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/provisioner/pkg/config"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/stores"
	"github.com/openfroyo/provisioner/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Sources reported for resolved settings.
const (
	SourceExplicit      = "explicit"
	SourceConfig        = "config"
	SourceResourceGroup = "resource_group"
	SourceBuiltin       = "builtin"
	SourceNone          = "none"
)

// ProvisionOptions control one invocation.
type ProvisionOptions struct {
	// Force redeploys an existing resource without asking.
	Force bool

	// Confirm is asked whether an existing resource may be redeployed.
	// Nil declines.
	Confirm engine.ConfirmFunc

	// NameMode overrides the orchestrator's naming mode.
	NameMode engine.NameMode
}

// resolution holds the settings resolved for a request.
type resolution struct {
	group          *engine.ResourceGroupInfo
	network        *engine.NetworkInfo
	location       string
	locationSource string
	tier           string
	tierSource     string
	template       string
}

// invocation is the state of one Provision call.
type invocation struct {
	o         *Orchestrator
	req       engine.ResourceRequest
	opts      ProvisionOptions
	machine   *machine
	run       *engine.Run
	logger    *telemetry.Logger
	log       zerolog.Logger
	timer     *telemetry.Timer
	compliant bool
}

// Provision runs one request through
// Validating -> Resolving -> CheckingIdempotency -> Deploying -> Completed.
// A resource that exists and may not be redeployed is returned as a result in
// state ReturningExisting, or as a ResourceExistsError when the gate is
// strict. Every error returned is a *engine.ProvisioningError in state Failed.
func (o *Orchestrator) Provision(ctx context.Context, req engine.ResourceRequest, opts ProvisionOptions) (*engine.Result, error) {
	ctx, span := o.tracer.StartProvisionSpan(ctx, req)

	inv := &invocation{
		o:     o,
		req:   req,
		opts:  opts,
		timer: telemetry.NewTimer(),
	}
	inv.useLogger(o.logger.
		WithResource(string(req.ResourceType), req.Name).
		WithFields(map[string]interface{}{
			"resource_group": req.ResourceGroup,
			"environment":    string(req.Environment),
		}))
	if inv.opts.NameMode == "" {
		inv.opts.NameMode = o.nameMode
	}

	o.metrics.RecordProvisionStarted(req.ResourceType, req.Environment)
	result, err := inv.execute(ctx)
	telemetry.EndSpan(span, err)
	return result, err
}

func (inv *invocation) execute(ctx context.Context) (*engine.Result, error) {
	o := inv.o
	m, stageCtx := newMachine(ctx, o.tracer)
	inv.machine = m

	inv.startRun(ctx)
	inv.logger.WithField("run_id", inv.run.ID).Info("Provisioning started")
	inv.emit(ctx, engine.EventProvisioningStarted, map[string]interface{}{
		"environment": string(inv.req.Environment),
		"force":       inv.opts.Force,
		"name_mode":   string(inv.opts.NameMode),
	})

	// Validating
	req, err := engine.NewResourceRequest(inv.req)
	if err != nil {
		return inv.fail(ctx, err)
	}
	inv.req = req
	if err := inv.validateName(stageCtx); err != nil {
		return inv.fail(ctx, err)
	}

	// Resolving
	if stageCtx, err = m.Transition(engine.StateResolving, nil); err != nil {
		return inv.fail(ctx, err)
	}
	res, err := inv.resolve(stageCtx)
	if err != nil {
		return inv.fail(ctx, err)
	}

	// CheckingIdempotency
	if stageCtx, err = m.Transition(engine.StateCheckingIdempotency, nil); err != nil {
		return inv.fail(ctx, err)
	}
	decision, err := o.gate.Decide(stageCtx, inv.lookupExisting, inv.opts.Force, inv.opts.Confirm)
	if err != nil {
		return inv.fail(ctx, err)
	}
	o.metrics.RecordDecision(decision.Kind)
	payload := map[string]interface{}{
		"decision": string(decision.Kind),
		"reason":   decision.Reason,
	}
	if decision.Existing != nil {
		payload["resource_id"] = decision.Existing.ID
	}
	inv.emit(stageCtx, engine.EventIdempotencyDecided, payload)

	switch decision.Kind {
	case engine.DecisionReturnExisting:
		if _, err := m.Transition(engine.StateReturningExisting, nil); err != nil {
			return inv.fail(ctx, err)
		}
		return inv.complete(ctx, inv.existingResult(decision.Existing, res), engine.EventReturnedExisting)

	case engine.DecisionAbort:
		if _, err := m.Transition(engine.StateAborted, nil); err != nil {
			return inv.fail(ctx, err)
		}
		existing := decision.Existing
		return inv.fail(ctx, engine.NewResourceExistsError(
			fmt.Sprintf("%s %s already exists in %s", inv.req.ResourceType, inv.req.Name, inv.req.ResourceGroup),
			inv.req.ResourceType, inv.req.Name,
			engine.ResourceExistsDetail{ResourceID: existing.ID, ExistingState: existing.ProvisioningState},
		).WithCode(engine.ErrCodeAlreadyExists))
	}

	// Deploying
	if stageCtx, err = m.Transition(engine.StateDeploying, nil); err != nil {
		return inv.fail(ctx, err)
	}
	result, err := inv.deploy(stageCtx, res, decision)
	if err != nil {
		return inv.fail(ctx, err)
	}
	if _, err := m.Transition(engine.StateCompleted, nil); err != nil {
		return inv.fail(ctx, err)
	}
	return inv.complete(ctx, result, engine.EventProvisioningCompleted)
}

func (inv *invocation) validateName(ctx context.Context) error {
	o := inv.o
	req := inv.req
	if strings.TrimSpace(req.Name) == "" {
		return engine.NewValidationError("resource name is required", req.ResourceType, req.Name,
			engine.ValidationDetail{Rule: "required", ProvidedValue: req.Name}).
			WithCode(engine.ErrCodeValidation)
	}
	if o.validator == nil {
		inv.compliant = true
		return nil
	}

	ok, err := o.validator.Validate(ctx, req.ResourceType, req.Name, req.Environment, inv.opts.NameMode)
	if err != nil {
		return err
	}
	inv.compliant = ok

	payload := map[string]interface{}{
		"name":      req.Name,
		"mode":      string(inv.opts.NameMode),
		"compliant": ok,
	}
	if !ok {
		o.metrics.RecordNameWarning(req.ResourceType)
		inv.logger.Warn("Name does not follow naming policy, continuing")
		inv.emit(ctx, engine.EventNamePolicyWarning, payload)
		return nil
	}
	inv.emit(ctx, engine.EventNameValidated, payload)
	return nil
}

func (inv *invocation) resolve(ctx context.Context) (*resolution, error) {
	o := inv.o
	req := inv.req
	res := &resolution{}

	group, err := backendCall(ctx, o, ActivityLookupGroup, func(ctx context.Context) (*engine.ResourceGroupInfo, error) {
		return o.backend.GetResourceGroup(ctx, req.ResourceGroup)
	})
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, engine.NewDependencyError(
			fmt.Sprintf("resource group %s does not exist", req.ResourceGroup),
			req.ResourceType, req.Name,
			engine.DependencyDetail{DependencyType: "resource_group", DependencyName: req.ResourceGroup, DependencyState: "NotFound"},
		).WithCode(engine.ErrCodeDependencyFailed)
	}
	res.group = group

	switch {
	case !config.IsSentinel(req.Location):
		res.location, res.locationSource = req.Location, SourceExplicit
	case o.config != nil:
		if region, ok := o.config.DefaultRegion(req.Environment); ok {
			res.location, res.locationSource = region, SourceConfig
		}
	}
	if res.location == "" {
		res.location, res.locationSource = group.Location, SourceResourceGroup
	}

	switch {
	case !config.IsSentinel(req.Tier):
		res.tier, res.tierSource = req.Tier, SourceExplicit
	case o.config != nil:
		if tier, ok := o.config.DefaultTier(req.ResourceType, req.Environment); ok {
			res.tier, res.tierSource = tier, SourceConfig
		}
	}
	if res.tierSource == "" {
		res.tierSource = SourceNone
	}

	if o.config != nil {
		res.template, _ = o.config.Template(req.ResourceType)
	}
	if res.template == "" {
		res.template = fmt.Sprintf("templates/%s.json", req.ResourceType)
	}

	network, err := inv.checkNetwork(ctx)
	if err != nil {
		return nil, err
	}
	res.network = network

	payload := map[string]interface{}{
		"location":        res.location,
		"location_source": res.locationSource,
		"tier":            res.tier,
		"tier_source":     res.tierSource,
		"template":        res.template,
	}
	if network != nil {
		payload["virtual_network"] = network.ID
	}
	inv.emit(ctx, engine.EventConfigResolved, payload)
	inv.log.Debug().
		Str("location", res.location).
		Str("location_source", res.locationSource).
		Str("tier", res.tier).
		Str("template", res.template).
		Msg("Configuration resolved")

	return res, nil
}

// checkNetwork verifies the virtual network a VM or web app joins. VMs must
// name one; web apps are checked only when they do.
func (inv *invocation) checkNetwork(ctx context.Context) (*engine.NetworkInfo, error) {
	o := inv.o
	req := inv.req
	if req.ResourceType != engine.ResourceTypeVirtualMachine && req.ResourceType != engine.ResourceTypeWebApp {
		return nil, nil
	}

	name, ok := req.Parameters.GetString(VirtualNetworkParameter)
	if !ok {
		if req.ResourceType == engine.ResourceTypeWebApp {
			return nil, nil
		}
		return nil, engine.NewDependencyError(
			"virtual machine requires a virtual network",
			req.ResourceType, req.Name,
			engine.DependencyDetail{DependencyType: "virtual_network", DependencyState: "Unspecified"},
		).WithCode(engine.ErrCodeDependencyFailed)
	}

	network, err := backendCall(ctx, o, ActivityLookupNetwork, func(ctx context.Context) (*engine.NetworkInfo, error) {
		return o.backend.GetVirtualNetwork(ctx, req.ResourceGroup, name)
	})
	if err != nil {
		return nil, err
	}
	if network == nil {
		return nil, engine.NewDependencyError(
			fmt.Sprintf("virtual network %s does not exist in %s", name, req.ResourceGroup),
			req.ResourceType, req.Name,
			engine.DependencyDetail{DependencyType: "virtual_network", DependencyName: name, DependencyState: "NotFound"},
		).WithCode(engine.ErrCodeDependencyFailed)
	}
	if network.ProvisioningState != string(engine.DeploymentSucceeded) {
		return nil, engine.NewNetworkConfigurationError(
			fmt.Sprintf("virtual network %s is not ready", name),
			req.ResourceType, req.Name,
			engine.NetworkConfigurationDetail{
				NetworkResource: network.ID,
				Detail:          fmt.Sprintf("provisioning state is %s", network.ProvisioningState),
			},
		).WithCode(engine.ErrCodeNetworkConfig)
	}
	return network, nil
}

func (inv *invocation) lookupExisting(ctx context.Context) (*engine.ResourceInfo, error) {
	o := inv.o
	req := inv.req
	return backendCall(ctx, o, ActivityLookupResource, func(ctx context.Context) (*engine.ResourceInfo, error) {
		return o.backend.GetResource(ctx, req.ResourceType, req.ResourceGroup, req.Name)
	})
}

func (inv *invocation) deploy(ctx context.Context, res *resolution, decision engine.Decision) (*engine.Result, error) {
	o := inv.o
	req := inv.req

	params := req.Parameters
	if _, ok := params.Get("tags"); !ok {
		tags := map[string]interface{}{"environment": string(req.Environment)}
		if req.Department != "" {
			tags["department"] = req.Department
		}
		params = params.With("tags", tags)
	}

	dreq := engine.DeploymentRequest{
		ResourceType:  req.ResourceType,
		ResourceName:  req.Name,
		ResourceGroup: req.ResourceGroup,
		Name:          o.deploymentName(req.ResourceType, req.Name),
		Template:      res.template,
		Location:      res.location,
		Tier:          res.tier,
		Parameters:    params,
	}
	inv.run.DeploymentName = dreq.Name
	policy := o.Policy(ActivityDeploy)

	inv.emit(ctx, engine.EventDeploymentStarted, map[string]interface{}{
		"deployment":   dreq.Name,
		"template":     dreq.Template,
		"location":     dreq.Location,
		"tier":         dreq.Tier,
		"max_attempts": policy.MaxAttempts,
	})

	attempt := 0
	outcome, err := backendCall(ctx, o, ActivityDeploy, func(ctx context.Context) (*engine.DeploymentOutcome, error) {
		attempt++
		if attempt > 1 {
			inv.emit(ctx, engine.EventDeploymentRetry, map[string]interface{}{
				"deployment":   dreq.Name,
				"attempt":      attempt,
				"max_attempts": policy.MaxAttempts,
			})
		}
		return o.backend.Deploy(ctx, dreq)
	})
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return nil, engine.NewProvisioningFailedError("backend returned no deployment outcome",
			req.ResourceType, req.Name,
			engine.ProvisioningFailedDetail{DeploymentID: dreq.Name}).
			WithCode(engine.ErrCodeDeploymentFailed)
	}

	inv.run.CorrelationID = outcome.CorrelationID
	if outcome.CorrelationID != "" {
		inv.useLogger(inv.logger.WithCorrelationID(outcome.CorrelationID))
	}
	if outcome.State != engine.DeploymentSucceeded {
		return nil, engine.NewProvisioningFailedError(
			fmt.Sprintf("deployment %s finished in state %s", dreq.Name, outcome.State),
			req.ResourceType, req.Name,
			engine.ProvisioningFailedDetail{
				ProvisioningState: string(outcome.State),
				DeploymentID:      dreq.Name,
				ErrorDetails:      outcome.ErrorDetails,
			}).
			WithCode(engine.ErrCodeDeploymentFailed).
			WithCorrelationID(outcome.CorrelationID)
	}

	inv.emit(ctx, engine.EventDeploymentCompleted, map[string]interface{}{
		"deployment":     dreq.Name,
		"state":          string(outcome.State),
		"correlation_id": outcome.CorrelationID,
		"attempts":       attempt,
	})

	resource, err := backendCall(ctx, o, ActivityReadBack, func(ctx context.Context) (*engine.ResourceInfo, error) {
		return o.backend.GetResource(ctx, req.ResourceType, req.ResourceGroup, req.Name)
	})
	if err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, engine.NewProvisioningFailedError(
			fmt.Sprintf("deployment %s succeeded but the resource could not be read back", dreq.Name),
			req.ResourceType, req.Name,
			engine.ProvisioningFailedDetail{ProvisioningState: string(outcome.State), DeploymentID: dreq.Name}).
			WithCode(engine.ErrCodeNotFound).
			WithCorrelationID(outcome.CorrelationID)
	}

	return &engine.Result{
		ResourceID:     resource.ID,
		ResourceType:   req.ResourceType,
		Name:           req.Name,
		ResourceGroup:  req.ResourceGroup,
		Location:       firstNonEmpty(resource.Location, res.location),
		Tier:           firstNonEmpty(resource.Tier, res.tier),
		Idempotency:    decision.Outcome(),
		NameCompliant:  inv.compliant,
		CorrelationID:  outcome.CorrelationID,
		DeploymentName: dreq.Name,
		Outputs:        outcome.Outputs,
		State:          engine.StateCompleted,
		Timestamp:      o.now().UTC(),
	}, nil
}

func (inv *invocation) existingResult(existing *engine.ResourceInfo, res *resolution) *engine.Result {
	return &engine.Result{
		ResourceID:    existing.ID,
		ResourceType:  inv.req.ResourceType,
		Name:          inv.req.Name,
		ResourceGroup: inv.req.ResourceGroup,
		Location:      firstNonEmpty(existing.Location, res.location),
		Tier:          existing.Tier,
		Idempotency:   engine.OutcomeExisting,
		NameCompliant: inv.compliant,
		State:         engine.StateReturningExisting,
		Timestamp:     inv.o.now().UTC(),
	}
}

func (inv *invocation) complete(ctx context.Context, result *engine.Result, kind engine.EventKind) (*engine.Result, error) {
	o := inv.o
	inv.machine.Finish(nil)

	inv.emit(ctx, kind, map[string]interface{}{
		"resource_id":    result.ResourceID,
		"idempotency":    string(result.Idempotency),
		"state":          string(result.State),
		"name_compliant": result.NameCompliant,
		"duration_ms":    inv.timer.Duration().Milliseconds(),
	})
	o.metrics.RecordProvisionCompleted(inv.req.ResourceType, result.State, inv.timer.Duration())

	inv.run.Status = engine.RunStatusSucceeded
	inv.run.State = result.State
	inv.finishRun(ctx)

	action := "resource.deployed"
	if result.State == engine.StateReturningExisting {
		action = "resource.returned_existing"
	}
	inv.recordAudit(ctx, action, map[string]interface{}{
		"resource_id":     result.ResourceID,
		"idempotency":     string(result.Idempotency),
		"deployment_name": result.DeploymentName,
		"correlation_id":  result.CorrelationID,
	})

	inv.log.Info().
		Str("state", string(result.State)).
		Str("resource_id", result.ResourceID).
		Str("idempotency", string(result.Idempotency)).
		Dur("duration", inv.timer.Duration()).
		Msg("Provisioning finished")

	return result, nil
}

func (inv *invocation) fail(ctx context.Context, err error) (*engine.Result, error) {
	o := inv.o
	perr := o.retry.Classifier().Normalize(err, inv.req.ResourceType, inv.req.Name)
	if inv.machine.State() != engine.StateFailed {
		if _, terr := inv.machine.Transition(engine.StateFailed, perr); terr != nil {
			inv.logger.WithError(terr).Warn("Forcing failed state")
		}
	}
	perr = perr.WithState(engine.StateFailed)
	if perr.CorrelationID == "" && inv.run.CorrelationID != "" {
		perr = perr.WithCorrelationID(inv.run.CorrelationID)
	}
	inv.machine.Finish(perr)

	fields := perr.Fields()
	fields["duration_ms"] = inv.timer.Duration().Milliseconds()
	inv.emit(ctx, engine.EventProvisioningFailed, fields)
	o.metrics.RecordError(perr)
	o.metrics.RecordProvisionCompleted(inv.req.ResourceType, engine.StateFailed, inv.timer.Duration())

	inv.run.Status = engine.RunStatusFailed
	inv.run.State = engine.StateFailed
	inv.run.ErrorCategory = perr.Category
	inv.run.ErrorMessage = perr.Message
	inv.finishRun(ctx)
	inv.recordAudit(ctx, "provisioning.failed", map[string]interface{}{
		"category": string(perr.Category),
		"code":     perr.Code,
		"message":  perr.Message,
	})

	return nil, engine.Report(inv.log, perr, engine.ReportRaise)
}

// useLogger replaces the invocation logger and its zerolog view.
func (inv *invocation) useLogger(l *telemetry.Logger) {
	inv.logger = l
	inv.log = l.Zerolog()
}

func (inv *invocation) startRun(ctx context.Context) {
	inv.run = &engine.Run{
		ID:            uuid.New().String(),
		ResourceType:  inv.req.ResourceType,
		ResourceName:  inv.req.Name,
		ResourceGroup: inv.req.ResourceGroup,
		Environment:   inv.req.Environment,
		Status:        engine.RunStatusRunning,
		State:         engine.StateValidating,
		StartedAt:     inv.o.now().UTC(),
	}
	if inv.o.runs == nil {
		return
	}
	if err := inv.o.runs.StartRun(ctx, inv.run); err != nil {
		inv.logger.WithError(err).Warn("Failed to record run start")
	}
}

func (inv *invocation) finishRun(ctx context.Context) {
	if inv.o.runs == nil {
		return
	}
	now := inv.o.now().UTC()
	inv.run.CompletedAt = &now
	if err := inv.o.runs.FinishRun(ctx, inv.run); err != nil {
		inv.log.Warn().Err(err).Str("run_id", inv.run.ID).Msg("Failed to record run result")
	}
}

func (inv *invocation) recordAudit(ctx context.Context, action string, details map[string]interface{}) {
	if inv.o.audit == nil {
		return
	}
	entry := &stores.AuditEntry{
		RunID:        inv.run.ID,
		Action:       action,
		Actor:        inv.o.actor,
		ResourcePath: inv.req.Path(),
		Details:      details,
		Timestamp:    inv.o.now().UTC(),
	}
	if err := inv.o.audit.CreateAuditEntry(ctx, entry); err != nil {
		inv.log.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}

// emit appends an event. Sink failures are logged and otherwise ignored.
func (inv *invocation) emit(ctx context.Context, kind engine.EventKind, payload map[string]interface{}) {
	if inv.o.events == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["run_id"] = inv.run.ID
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		payload["trace_id"] = traceID
	}
	event := engine.Event{
		Kind:      kind,
		Path:      inv.req.Path(),
		Payload:   payload,
		Timestamp: inv.o.now().UTC(),
		Level:     kind.Level(),
	}
	if err := inv.o.events.Append(ctx, event); err != nil {
		inv.log.Warn().Err(err).Str("event", string(kind)).Msg("Failed to append event")
	}
}

// backendCall runs one backend operation under the activity's retry policy,
// with a span and an attempt count per try.
func backendCall[T any](ctx context.Context, o *Orchestrator, activity string, op func(context.Context) (T, error)) (T, error) {
	return engine.Execute(ctx, o.retry, o.Policy(activity), func(ctx context.Context) (T, error) {
		o.metrics.RecordAttempt(activity)
		ctx, span := o.tracer.StartBackendSpan(ctx, activity)
		v, err := op(ctx)
		telemetry.EndSpan(span, err)
		return v, err
	})
}

// DeploymentName returns "<type-prefix>-<name>-<yyyymmddhhmmss>" in UTC.
func DeploymentName(resourceType engine.ResourceType, name string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", resourceType.Prefix(), name, at.UTC().Format("20060102150405"))
}

func (o *Orchestrator) deploymentName(resourceType engine.ResourceType, name string) string {
	n := DeploymentName(resourceType, name, o.now())
	if o.prefix != "" {
		return o.prefix + "-" + n
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
