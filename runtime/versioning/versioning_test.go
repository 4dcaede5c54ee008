package versioning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionDoc(t *testing.T) {
	t.Parallel()

	require.True(t, CanTransitionDoc(DocStatusDraft, DocStatusConfirmed))
	require.True(t, CanTransitionDoc(DocStatusConfirmed, DocStatusOutdated))
	require.True(t, CanTransitionDoc(DocStatusOutdated, DocStatusConfirmed))
	require.False(t, CanTransitionDoc(DocStatusDraft, DocStatusOutdated))
	require.False(t, CanTransitionDoc(DocStatusConfirmed, DocStatusDraft))
}
