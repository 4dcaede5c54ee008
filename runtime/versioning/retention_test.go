package versioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteforge-ai/core/runtime/apperr"
)

func mkItem(id string, src Source, pinned, released bool, age time.Duration) Item {
	return Item{ID: id, Source: src, IsPinned: pinned, IsReleased: released, CreatedAt: time.Now().Add(-age)}
}

func TestRetention_KeepsPinnedAndRecentAuto(t *testing.T) {
	t.Parallel()

	items := []Item{
		mkItem("p1", SourceManual, true, false, 10*time.Hour),
		mkItem("p2", SourceManual, true, false, 9*time.Hour),
		mkItem("a1", SourceAuto, false, false, 1*time.Hour),
		mkItem("a2", SourceAuto, false, false, 2*time.Hour),
		mkItem("a3", SourceAuto, false, false, 3*time.Hour),
		mkItem("a4", SourceAuto, false, false, 4*time.Hour),
		mkItem("a5", SourceAuto, false, false, 5*time.Hour),
		mkItem("a6", SourceAuto, false, false, 6*time.Hour),
	}
	plan := Retention(items)

	require.ElementsMatch(t, []string{"a6"}, plan.Release)
	require.Empty(t, plan.Restore)
}

func TestRetention_NonAutoNonPinnedAlwaysReleased(t *testing.T) {
	t.Parallel()

	items := []Item{
		mkItem("m1", SourceManual, false, false, time.Hour),
		mkItem("r1", SourceRollback, false, false, 2*time.Hour),
	}
	plan := Retention(items)

	require.ElementsMatch(t, []string{"m1", "r1"}, plan.Release)
}

func TestRetention_RestoresRacedPin(t *testing.T) {
	t.Parallel()

	items := []Item{
		mkItem("x1", SourceManual, true, true, time.Hour),
	}
	plan := Retention(items)

	require.ElementsMatch(t, []string{"x1"}, plan.Restore)
	require.Empty(t, plan.Release)
}

func TestRetention_AlreadyReleasedStaysReleased(t *testing.T) {
	t.Parallel()

	// "old" is the sixth auto item by recency, outside the maxAuto keep set.
	items := []Item{
		mkItem("a1", SourceAuto, false, false, 1*time.Hour),
		mkItem("a2", SourceAuto, false, false, 2*time.Hour),
		mkItem("a3", SourceAuto, false, false, 3*time.Hour),
		mkItem("a4", SourceAuto, false, false, 4*time.Hour),
		mkItem("a5", SourceAuto, false, false, 5*time.Hour),
		mkItem("old", SourceAuto, false, true, 100*time.Hour),
	}
	plan := Retention(items)

	require.Empty(t, plan.Release)
	require.Empty(t, plan.Restore)
}

func TestCheckPinLimit(t *testing.T) {
	t.Parallel()

	items := []Item{
		mkItem("p1", SourceManual, true, false, time.Hour),
		mkItem("p2", SourceManual, true, false, 2*time.Hour),
	}
	err := CheckPinLimit(items)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CategoryStateConflict))
	require.Contains(t, err.Error(), "pinned limit exceeded")

	err = CheckPinLimit(items[:1])
	require.NoError(t, err)
}
