package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// LookupFunc reports the current resource, or nil when it does not exist.
type LookupFunc func(ctx context.Context) (*ResourceInfo, error)

// ConfirmFunc asks whether an existing resource may be redeployed. It is
// called synchronously and must not make network calls.
type ConfirmFunc func(existing *ResourceInfo) bool

// Decision is the verdict of the IdempotencyGate.
type Decision struct {
	// Kind is the verdict.
	Kind DecisionKind `json:"kind"`

	// Existing is the resource found by the lookup, if any.
	Existing *ResourceInfo `json:"existing,omitempty"`

	// Reason explains the verdict for logs and events.
	Reason string `json:"reason"`
}

// Outcome maps the decision onto the Result outcome.
func (d Decision) Outcome() IdempotencyOutcome {
	switch {
	case d.Kind == DecisionReturnExisting, d.Kind == DecisionAbort:
		return OutcomeExisting
	case d.Existing != nil:
		return OutcomeUpdated
	default:
		return OutcomeCreated
	}
}

// IdempotencyGate decides whether a deployment may proceed given what
// already exists. It performs no retries; callers wrap the lookup.
type IdempotencyGate struct {
	strict bool
	logger zerolog.Logger
}

// GateOption configures an IdempotencyGate.
type GateOption func(*IdempotencyGate)

// WithStrictExisting makes the gate Abort instead of returning an existing resource.
func WithStrictExisting(strict bool) GateOption {
	return func(g *IdempotencyGate) {
		g.strict = strict
	}
}

// WithGateLogger sets the gate logger.
func WithGateLogger(logger zerolog.Logger) GateOption {
	return func(g *IdempotencyGate) {
		g.logger = logger.With().Str("component", "idempotency").Logger()
	}
}

// NewIdempotencyGate creates a gate.
func NewIdempotencyGate(opts ...GateOption) *IdempotencyGate {
	g := &IdempotencyGate{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide runs lookup and applies the decision table:
//
//	not found           -> Proceed
//	found, force        -> Proceed
//	found, confirm true -> Proceed
//	found, otherwise    -> ReturnExisting (Abort when strict)
//
// A nil confirm counts as declined.
func (g *IdempotencyGate) Decide(ctx context.Context, lookup LookupFunc, force bool, confirm ConfirmFunc) (Decision, error) {
	if lookup == nil {
		return Decision{}, fmt.Errorf("lookup function is nil")
	}

	existing, err := lookup(ctx)
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	switch {
	case existing == nil:
		d = Decision{Kind: DecisionProceed, Reason: "resource does not exist"}
	case force:
		d = Decision{Kind: DecisionProceed, Existing: existing, Reason: "resource exists, forced update"}
	case confirm != nil && confirm(existing):
		d = Decision{Kind: DecisionProceed, Existing: existing, Reason: "resource exists, update confirmed"}
	case g.strict:
		d = Decision{Kind: DecisionAbort, Existing: existing, Reason: "resource exists, strict mode"}
	default:
		d = Decision{Kind: DecisionReturnExisting, Existing: existing, Reason: "resource exists, update declined"}
	}

	event := g.logger.Debug().Str("decision", string(d.Kind)).Str("reason", d.Reason)
	if existing != nil {
		event = event.Str("resource_id", existing.ID)
	}
	event.Msg("Idempotency decision")

	return d, nil
}
