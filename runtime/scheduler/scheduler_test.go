package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siteforge-ai/core/runtime/plan"
)

func pendingTask(id string, deps ...string) plan.Task {
	return plan.Task{ID: id, Status: plan.TaskStatusPending, DependsOn: deps, CanParallel: true}
}

func TestNew_DetectsCycle(t *testing.T) {
	t.Parallel()

	_, err := New([]plan.Task{
		pendingTask("a", "b"),
		pendingTask("b", "a"),
	})
	require.Error(t, err)
}

func TestNew_RejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	_, err := New([]plan.Task{pendingTask("a", "ghost")})
	require.Error(t, err)
}

func TestGetReadyTasks_RespectsDependencies(t *testing.T) {
	t.Parallel()

	s, err := New([]plan.Task{
		pendingTask("a"),
		pendingTask("b", "a"),
	})
	require.NoError(t, err)

	ready := s.GetReadyTasks(10)
	require.Len(t, ready, 1)
	require.Equal(t, "a", ready[0].ID)

	s.MarkCompleted("a")
	ready = s.GetReadyTasks(10)
	require.Len(t, ready, 1)
	require.Equal(t, "b", ready[0].ID)
}

func TestGetReadyTasks_ExclusiveTaskBlocksOthers(t *testing.T) {
	t.Parallel()

	excl := pendingTask("excl")
	excl.CanParallel = false
	s, err := New([]plan.Task{excl, pendingTask("par")})
	require.NoError(t, err)

	first := s.GetReadyTasks(10)
	require.Len(t, first, 1)

	s.MarkRunning(first[0].ID)
	second := s.GetReadyTasks(10)
	if first[0].ID == "excl" {
		require.Empty(t, second)
	} else {
		require.Len(t, second, 1)
		require.Equal(t, "excl", second[0].ID)
	}
}

func TestMarkFailed_CascadesBlockToDependents(t *testing.T) {
	t.Parallel()

	s, err := New([]plan.Task{
		pendingTask("a"),
		pendingTask("b", "a"),
		pendingTask("c", "b"),
	})
	require.NoError(t, err)

	blocked := s.MarkFailed("a")
	require.ElementsMatch(t, []string{"b", "c"}, blocked)

	bTask, _ := s.Task("b")
	require.Equal(t, plan.TaskStatusBlocked, bTask.Status)
}

func TestMarkCompleted_UnblocksReblockedTask(t *testing.T) {
	t.Parallel()

	s, err := New([]plan.Task{
		pendingTask("a"),
		pendingTask("b"),
		pendingTask("c", "a", "b"),
	})
	require.NoError(t, err)

	cTask, _ := s.Task("c")
	require.Equal(t, plan.TaskStatusBlocked, cTask.Status)

	s.MarkCompleted("a")
	cTask, _ = s.Task("c")
	require.Equal(t, plan.TaskStatusBlocked, cTask.Status)

	unblocked := s.MarkCompleted("b")
	require.Equal(t, []string{"c"}, unblocked)
}

func TestIsAllDone(t *testing.T) {
	t.Parallel()

	s, err := New([]plan.Task{pendingTask("a"), pendingTask("b")})
	require.NoError(t, err)

	require.False(t, s.IsAllDone())
	s.MarkCompleted("a")
	require.False(t, s.IsAllDone())
	s.MarkSkipped("b")
	require.True(t, s.IsAllDone())
}
