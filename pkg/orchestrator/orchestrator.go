package orchestrator

import (
	"context"
	"time"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/stores"
	"github.com/openfroyo/provisioner/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Activity labels used for retry policies, logs and metrics.
const (
	ActivityLookupGroup    = "lookup-resource-group"
	ActivityLookupNetwork  = "lookup-virtual-network"
	ActivityLookupResource = "lookup-resource"
	ActivityDeploy         = "deploy"
	ActivityReadBack       = "read-back"
)

// VirtualNetworkParameter names the template parameter that references the
// virtual network a resource joins.
const VirtualNetworkParameter = "virtualNetwork"

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	CreateAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
}

// Orchestrator provisions one resource per Provision call by composing name
// validation, configuration resolution, the idempotency gate and a retried
// deployment. It holds no per-invocation state and is safe for concurrent
// use.
type Orchestrator struct {
	backend   engine.Backend
	validator engine.NameValidator
	config    engine.ConfigSource
	events    engine.EventSink
	runs      engine.RunRecorder
	audit     AuditRecorder
	retry     *engine.RetryExecutor
	gate      *engine.IdempotencyGate
	tracer    *telemetry.Tracer
	metrics   *telemetry.Metrics
	logger    *telemetry.Logger
	now       func() time.Time

	nameMode engine.NameMode
	prefix   string
	actor    string
	policies map[string]engine.RetryPolicy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithValidator sets the naming policy validator. Without one, names are
// only checked for presence.
func WithValidator(v engine.NameValidator) Option {
	return func(o *Orchestrator) {
		o.validator = v
	}
}

// WithConfig sets the configuration source for default tiers, regions and
// templates.
func WithConfig(c engine.ConfigSource) Option {
	return func(o *Orchestrator) {
		o.config = c
	}
}

// WithEventSink sets the event sink.
func WithEventSink(s engine.EventSink) Option {
	return func(o *Orchestrator) {
		o.events = s
	}
}

// WithRunRecorder records each invocation as a run.
func WithRunRecorder(r engine.RunRecorder) Option {
	return func(o *Orchestrator) {
		o.runs = r
	}
}

// WithAuditLog records an audit entry for each finished invocation.
func WithAuditLog(a AuditRecorder, actor string) Option {
	return func(o *Orchestrator) {
		o.audit = a
		o.actor = actor
	}
}

// WithRetryExecutor sets the executor used for every backend call.
func WithRetryExecutor(r *engine.RetryExecutor) Option {
	return func(o *Orchestrator) {
		o.retry = r
	}
}

// WithGate sets the idempotency gate.
func WithGate(g *engine.IdempotencyGate) Option {
	return func(o *Orchestrator) {
		o.gate = g
	}
}

// WithTracer sets the tracer for invocation and stage spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.NewComponentLogger("orchestrator")
	}
}

// WithClock sets the clock used for deployment names and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithNameMode sets the default naming mode for requests that do not set one.
func WithNameMode(mode engine.NameMode) Option {
	return func(o *Orchestrator) {
		o.nameMode = mode
	}
}

// WithDeploymentPrefix prepends prefix to every deployment name.
func WithDeploymentPrefix(prefix string) Option {
	return func(o *Orchestrator) {
		o.prefix = prefix
	}
}

// WithRetryPolicy overrides the policy for one activity. The activity label
// of p is replaced with activity.
func WithRetryPolicy(activity string, p engine.RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.policies[activity] = p.WithLabel(activity)
	}
}

// WithDefaultRetryPolicy applies p to every activity without an override.
func WithDefaultRetryPolicy(p engine.RetryPolicy) Option {
	return func(o *Orchestrator) {
		for _, activity := range activities() {
			o.policies[activity] = p.WithLabel(activity)
		}
	}
}

func activities() []string {
	return []string{ActivityLookupGroup, ActivityLookupNetwork, ActivityLookupResource, ActivityDeploy, ActivityReadBack}
}

// New creates an orchestrator over backend.
func New(backend engine.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		logger:   telemetry.NewLoggerFrom(zerolog.Nop()),
		now:      time.Now,
		nameMode: engine.NameModeSoft,
		policies: make(map[string]engine.RetryPolicy),
	}
	for _, activity := range activities() {
		o.policies[activity] = engine.DefaultRetryPolicy(activity)
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry == nil {
		o.retry = engine.NewRetryExecutor(engine.WithRetryLogger(o.logger.Zerolog()))
	}
	if o.gate == nil {
		o.gate = engine.NewIdempotencyGate(engine.WithGateLogger(o.logger.Zerolog()))
	}
	if o.tracer == nil {
		o.tracer = telemetry.NoopTracer()
	}
	return o
}

// Policy returns the retry policy used for activity.
func (o *Orchestrator) Policy(activity string) engine.RetryPolicy {
	if p, ok := o.policies[activity]; ok {
		return p
	}
	return engine.DefaultRetryPolicy(activity)
}
