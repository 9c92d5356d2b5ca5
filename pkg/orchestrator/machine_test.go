package orchestrator

import (
	"context"
	"testing"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_Transitions(t *testing.T) {
	m, _ := newMachine(context.Background(), telemetry.NoopTracer())
	assert.Equal(t, engine.StateValidating, m.State())

	for _, next := range []engine.State{
		engine.StateResolving,
		engine.StateCheckingIdempotency,
		engine.StateAborted,
		engine.StateFailed,
	} {
		_, err := m.Transition(next, nil)
		require.NoError(t, err)
	}
	m.Finish(nil)

	assert.Equal(t, []engine.State{
		engine.StateValidating,
		engine.StateResolving,
		engine.StateCheckingIdempotency,
		engine.StateAborted,
		engine.StateFailed,
	}, m.History())
}

func TestMachine_IllegalTransition(t *testing.T) {
	m, _ := newMachine(context.Background(), telemetry.NoopTracer())

	_, err := m.Transition(engine.StateDeploying, nil)
	assert.Error(t, err)
	assert.Equal(t, engine.StateValidating, m.State())
}
