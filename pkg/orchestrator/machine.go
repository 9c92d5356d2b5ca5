package orchestrator

import (
	"context"
	"fmt"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// machine tracks the state of one invocation and keeps one span open per
// stage.
type machine struct {
	tracer  *telemetry.Tracer
	root    context.Context
	state   engine.State
	span    trace.Span
	history []engine.State
}

func newMachine(ctx context.Context, tracer *telemetry.Tracer) (*machine, context.Context) {
	m := &machine{tracer: tracer, root: ctx}
	stageCtx := m.enter(engine.StateValidating)
	return m, stageCtx
}

// State returns the current state.
func (m *machine) State() engine.State {
	return m.state
}

// History returns every state entered, in order.
func (m *machine) History() []engine.State {
	out := make([]engine.State, len(m.history))
	copy(out, m.history)
	return out
}

// Transition moves to next, ending the current stage span with err. It
// returns the context for the new stage.
func (m *machine) Transition(next engine.State, err error) (context.Context, error) {
	if !m.state.CanTransitionTo(next) {
		return m.root, fmt.Errorf("illegal state transition %s -> %s", m.state, next)
	}
	m.endStage(err)
	return m.enter(next), nil
}

// Finish ends the last stage span.
func (m *machine) Finish(err error) {
	m.endStage(err)
}

func (m *machine) enter(state engine.State) context.Context {
	m.state = state
	m.history = append(m.history, state)
	ctx, span := m.tracer.StartStageSpan(m.root, state)
	m.span = span
	return ctx
}

func (m *machine) endStage(err error) {
	if m.span == nil {
		return
	}
	telemetry.EndSpan(m.span, err)
	m.span = nil
}
