package executor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition_ValidPath(t *testing.T) {
	require.True(t, CanTransition(StateIdle, StateSubmitting))
	require.True(t, CanTransition(StateSubmitting, StateWorking))
	require.True(t, CanTransition(StateWorking, StateFilled))
	require.True(t, CanTransition(StateWorking, StatePartial))
	require.True(t, CanTransition(StateWorking, StateTimedOut))
	require.True(t, CanTransition(StatePartial, StateRecover))
	require.True(t, CanTransition(StateTimedOut, StateCancel))
	require.True(t, CanTransition(StateCancel, StateReconcile))
	require.True(t, CanTransition(StateRecover, StateReconcile))
	require.True(t, CanTransition(StateFilled, StateReconcile))
}

func TestCanTransition_RejectsInvalid(t *testing.T) {
	require.False(t, CanTransition(StateIdle, StateWorking))
	require.False(t, CanTransition(StateWorking, StateIdle))
	require.False(t, CanTransition(StateReconcile, StateIdle))
	require.False(t, CanTransition(StateFilled, StatePartial))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(StateReconcile))
	require.False(t, IsTerminal(StateWorking))
}

func TestIsActive(t *testing.T) {
	require.True(t, IsActive(StateWorking))
	require.False(t, IsActive(StateReconcile))
}
