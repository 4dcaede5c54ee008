package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrub_RemovesEphemeralKeys(t *testing.T) {
	t.Parallel()

	in := json.RawMessage(`{"user_input":"build a landing page","tool_handles":{"fd":3},"mcp_session":"sess-xyz","pages":[]}`)
	out := Scrub(in)

	require.JSONEq(t, `{"user_input":"build a landing page","pages":[]}`, string(out))
}

func TestScrub_EmptyInput(t *testing.T) {
	t.Parallel()

	require.Empty(t, Scrub(nil))
	require.Empty(t, Scrub(json.RawMessage{}))
}

func TestScrub_NoEphemeralKeysUnchanged(t *testing.T) {
	t.Parallel()

	in := json.RawMessage(`{"user_input":"x"}`)
	require.JSONEq(t, string(in), string(Scrub(in)))
}
