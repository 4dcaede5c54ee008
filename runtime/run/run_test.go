package run

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusRunning, StatusWaitingInput, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusWaitingInput, StatusRunning, true},
		{StatusWaitingInput, StatusCancelled, true},
		{StatusWaitingInput, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		require.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, IsTerminal(StatusCompleted))
	require.True(t, IsTerminal(StatusFailed))
	require.True(t, IsTerminal(StatusCancelled))
	require.False(t, IsTerminal(StatusQueued))
	require.False(t, IsTerminal(StatusRunning))
	require.False(t, IsTerminal(StatusWaitingInput))
}

func TestCheckpointThreadID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sess-1:run-1", CheckpointThreadID("sess-1", "run-1"))
}

func genStatus() gopter.Gen {
	return gen.OneConstOf(
		StatusQueued, StatusRunning, StatusWaitingInput,
		StatusCompleted, StatusFailed, StatusCancelled,
	)
}

// TestCanTransitionProperty checks two invariants every (from, to) pair must
// hold regardless of which statuses CanTransition's table names explicitly:
// a terminal from-status never transitions anywhere, and CanTransition never
// panics on any Status value the type permits.
func TestCanTransitionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal statuses never transition", prop.ForAll(
		func(from Status) bool {
			if !IsTerminal(from) {
				return true
			}
			for _, to := range []Status{StatusQueued, StatusRunning, StatusWaitingInput, StatusCompleted, StatusFailed, StatusCancelled} {
				if CanTransition(from, to) {
					return false
				}
			}
			return true
		},
		genStatus(),
	))

	properties.Property("a status never transitions to itself", prop.ForAll(
		func(s Status) bool {
			return !CanTransition(s, s)
		},
		genStatus(),
	))

	properties.TestingRun(t)
}
