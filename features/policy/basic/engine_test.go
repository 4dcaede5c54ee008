package basic

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siteforge-ai/core/runtime/policy"
)

func TestPreTool_CommandAllowlistBlocksUnknownCommand(t *testing.T) {
	t.Parallel()

	e := New(Options{})
	decision, err := e.PreTool(context.Background(), policy.Invocation{
		ToolName: "shell", ArgsJSON: []byte(`{"command":"curl https://evil.example"}`),
	})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, "command_allowlist", decision.Findings[0].Check)
}

func TestPreTool_CommandAllowlistPassesAllowedCommand(t *testing.T) {
	t.Parallel()

	e := New(Options{})
	decision, err := e.PreTool(context.Background(), policy.Invocation{
		ToolName: "shell", ArgsJSON: []byte(`{"command":"npm install"}`),
	})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Empty(t, decision.Findings)
}

func TestPreTool_PathBoundaryBlocksEscape(t *testing.T) {
	t.Parallel()

	e := New(Options{ProjectRoot: "/workspace/project"})
	decision, err := e.PreTool(context.Background(), policy.Invocation{
		ToolName: "write_file", ArgsJSON: []byte(`{"path":"../../etc/passwd"}`),
	})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, "path_boundary", decision.Findings[0].Check)
}

func TestPreTool_PathBoundaryAllowsWithinRoot(t *testing.T) {
	t.Parallel()

	e := New(Options{ProjectRoot: "/workspace/project"})
	decision, err := e.PreTool(context.Background(), policy.Invocation{
		ToolName: "write_file", ArgsJSON: []byte(`{"path":"src/index.html"}`),
	})
	require.NoError(t, err)
	require.True(t, decision.Allow)
}

func TestPreTool_SensitiveFieldBlocks(t *testing.T) {
	t.Parallel()

	e := New(Options{})
	decision, err := e.PreTool(context.Background(), policy.Invocation{
		ToolName: "call_api", ArgsJSON: []byte(`{"headers":{"api_key":"sk-abcdef1234567890abcdef"}}`),
	})
	require.NoError(t, err)
	require.False(t, decision.Allow)

	var checks []string
	for _, f := range decision.Findings {
		checks = append(checks, f.Check)
	}
	require.Contains(t, checks, "sensitive_field")
}

func TestPreTool_ModeLogOnlyDowngradesBlockToWarn(t *testing.T) {
	t.Parallel()

	e := New(Options{Mode: policy.ModeLogOnly})
	decision, err := e.PreTool(context.Background(), policy.Invocation{
		ToolName: "shell", ArgsJSON: []byte(`{"command":"curl https://evil.example"}`),
	})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Equal(t, policy.SeverityWarn, decision.Findings[0].Severity)
}

func TestPreTool_ModeOffBypassesEverything(t *testing.T) {
	t.Parallel()

	e := New(Options{Mode: policy.ModeOff})
	decision, err := e.PreTool(context.Background(), policy.Invocation{
		ToolName: "shell", ArgsJSON: []byte(`{"command":"curl https://evil.example"}`),
	})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Empty(t, decision.Findings)
}

func TestPostTool_TruncatesLargeOutput(t *testing.T) {
	t.Parallel()

	e := New(Options{LargeOutputBytes: 16})
	big := strings.Repeat("a", 100)
	decision, err := e.PostTool(context.Background(), policy.Result{OutputJSON: []byte(`"` + big + `"`)})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Contains(t, string(decision.Output), `"truncated":true`)
	require.Contains(t, string(decision.Output), `"original_size":102`)
}

func TestPostTool_SmallOutputPassesThrough(t *testing.T) {
	t.Parallel()

	e := New(Options{})
	decision, err := e.PostTool(context.Background(), policy.Result{OutputJSON: []byte(`{"ok":true}`)})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Equal(t, `{"ok":true}`, string(decision.Output))
}
