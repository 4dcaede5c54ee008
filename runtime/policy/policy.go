// Package policy defines the Policy Engine contract: pre/post checks run
// around every tool invocation a graph node or task executor makes,
// mirroring goa-ai's runtime/agent/policy shape but generalized from a
// tool-id allow/block list to the command-allowlist / path-sandbox /
// secret-scan / output-truncation checks spec.md §4.9 names. Concrete
// engines live under features/policy/*.
package policy

import "context"

// Mode controls how a block finding is enforced.
type Mode string

const (
	// ModeOff bypasses every check; PreTool/PostTool always allow.
	ModeOff Mode = "off"
	// ModeLogOnly runs every check but downgrades block findings to warn,
	// so a violation is recorded without stopping the call.
	ModeLogOnly Mode = "log_only"
	// ModeEnforce runs every check and rejects the call on any block finding.
	ModeEnforce Mode = "enforce"
)

// Severity classifies a Finding.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
)

// Finding is one check's verdict.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// Invocation is the tool call a pre-check evaluates.
type Invocation struct {
	ToolName string
	// ArgsJSON is the call's argument tree, used for the path-boundary and
	// sensitive-content scans (gjson/sjson work against raw JSON rather
	// than a typed map).
	ArgsJSON []byte
}

// Result is a tool call's output, evaluated by the post-check.
type Result struct {
	OutputJSON []byte
}

// Decision is a check's outcome: whether the call may proceed, the
// findings that led there, and (for PostTool) the possibly-truncated
// output to hand back to the caller in place of the original.
type Decision struct {
	Allow    bool
	Findings []Finding
	// Output is PostTool's rewritten result (truncated if oversized);
	// empty for PreTool decisions.
	Output []byte
}

// Engine evaluates tool invocations before and after execution.
type Engine interface {
	PreTool(ctx context.Context, inv Invocation) (Decision, error)
	PostTool(ctx context.Context, res Result) (Decision, error)
}
