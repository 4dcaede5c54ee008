package run

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancelSet(t *testing.T) {
	t.Parallel()

	c := NewCancelSet()
	require.False(t, c.IsCancelled("run-1"))

	c.Mark("run-1")
	require.True(t, c.IsCancelled("run-1"))
	require.False(t, c.IsCancelled("run-2"))

	c.Clear("run-1")
	require.False(t, c.IsCancelled("run-1"))
}
