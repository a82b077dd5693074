package deploy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StateNotStarted, StateCheckpointCreated))
	require.True(t, CanTransition(StateCheckpointCreated, StateValidated))
	require.True(t, CanTransition(StateValidated, StateActivated))
	require.True(t, CanTransition(StateActivated, StateHealthChecked))
	require.True(t, CanTransition(StateHealthChecked, StateSucceeded))
	require.True(t, CanTransition(StateCheckpointCreated, StateRolledBack))
	require.True(t, CanTransition(StateActivated, StateRolledBack))

	// No skipping ahead and no leaving terminal states.
	require.False(t, CanTransition(StateNotStarted, StateActivated))
	require.False(t, CanTransition(StateNotStarted, StateSucceeded))
	require.False(t, CanTransition(StateSucceeded, StateNotStarted))
	require.False(t, CanTransition(StateRolledBack, StateValidated))
	require.False(t, CanTransition(StateFailed, StateCheckpointCreated))
}

func TestStateTerminal(t *testing.T) {
	require.True(t, StateSucceeded.Terminal())
	require.True(t, StateRolledBack.Terminal())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateNotStarted.Terminal())
	require.False(t, StateActivated.Terminal())
}

func TestAttemptAdvance(t *testing.T) {
	a := newAttempt()
	require.NoError(t, a.advance(StateCheckpointCreated))
	require.NoError(t, a.advance(StateValidated))
	require.Error(t, a.advance(StateSucceeded), "cannot skip activation")
	require.Equal(t, StateValidated, a.state)
	require.Equal(t, []string{"checkpoint_created", "validated"}, a.steps)
}
