package state

import (
	"encoding/json"

	"github.com/tidwall/sjson"
)

// ephemeralKeys are top-level graph_state keys a node may stash during
// execution (live tool handles, open MCP connections) that must never
// survive a checkpoint write.
var ephemeralKeys = []string{
	"tool_handles",
	"mcp_connections",
	"mcp_session",
	"active_tools",
}

// Scrub removes ephemeralKeys from a graph_state payload before it is
// persisted. Unknown or malformed input is returned unchanged rather than
// erroring, since graph_state legitimately arrives as whatever the caller's
// marshaling produced.
func Scrub(graphState json.RawMessage) json.RawMessage {
	if len(graphState) == 0 {
		return graphState
	}
	out := string(graphState)
	for _, key := range ephemeralKeys {
		cleaned, err := sjson.Delete(out, key)
		if err != nil {
			return graphState
		}
		out = cleaned
	}
	return json.RawMessage(out)
}
