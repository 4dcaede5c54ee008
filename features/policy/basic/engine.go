// Package basic provides a policy.Engine implementing the four checks
// spec.md §4.9 names: command allowlist, path boundary, sensitive-content
// scan, and post-tool output truncation. Shaped after goa-ai's
// features/policy/basic allow/block engine, generalized from tool-id
// filtering to these content-level checks.
package basic

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/siteforge-ai/core/runtime/policy"
)

// DefaultAllowedCommandPrefixes is the command allowlist spec.md §4.9 names.
var DefaultAllowedCommandPrefixes = []string{"npm", "npx", "node", "python", "pip", "git", "ls", "cat", "echo", "mkdir", "cp"}

// DefaultSensitiveKeys are argument-tree field names treated as sensitive
// whenever they carry a non-empty value.
var DefaultSensitiveKeys = []string{"api_key", "apikey", "token", "secret", "password", "access_key", "client_secret"}

// DefaultPathArgKeys are argument keys recognized as filesystem paths for
// the path-boundary check.
var DefaultPathArgKeys = []string{"path", "file", "filepath", "directory", "dir", "cwd", "root"}

// DefaultLargeOutputBytes is the post-tool truncation threshold.
const DefaultLargeOutputBytes = 100 * 1024

// shellHintedTools names tools whose first argument is a shell command line
// subject to the command allowlist, rather than a structured call.
var shellHintedTools = map[string]bool{"shell": true, "exec": true, "run_command": true, "bash": true}

// Options configures a basic Engine.
type Options struct {
	Mode                   policy.Mode
	ProjectRoot            string
	AllowedCommandPrefixes []string
	PathArgKeys            []string
	SensitiveKeys          []string
	LargeOutputBytes       int
}

// Engine implements policy.Engine.
type Engine struct {
	mode             policy.Mode
	projectRoot      string
	allowedCmds      map[string]struct{}
	pathArgKeys      []string
	sensitiveKeys    map[string]struct{}
	largeOutputBytes int
}

var _ policy.Engine = (*Engine)(nil)

// secretPatterns catches well-known credential shapes even when the
// carrying field name isn't one of SensitiveKeys (spec.md §4.9 "regex
// patterns (OpenAI-style keys, AWS access keys, bearer tokens, credential
// assignments)").
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`),
	regexp.MustCompile(`(?i)(password|secret|token)\s*[:=]\s*['"][^'"]{4,}['"]`),
}

// New builds an Engine, filling unset options with spec.md §4.9 defaults.
func New(opts Options) *Engine {
	cmds := opts.AllowedCommandPrefixes
	if cmds == nil {
		cmds = DefaultAllowedCommandPrefixes
	}
	keys := opts.SensitiveKeys
	if keys == nil {
		keys = DefaultSensitiveKeys
	}
	pathKeys := opts.PathArgKeys
	if pathKeys == nil {
		pathKeys = DefaultPathArgKeys
	}
	large := opts.LargeOutputBytes
	if large == 0 {
		large = DefaultLargeOutputBytes
	}
	mode := opts.Mode
	if mode == "" {
		mode = policy.ModeEnforce
	}

	return &Engine{
		mode:             mode,
		projectRoot:      opts.ProjectRoot,
		allowedCmds:      toSet(cmds),
		pathArgKeys:      pathKeys,
		sensitiveKeys:    toSet(keys),
		largeOutputBytes: large,
	}
}

func (e *Engine) PreTool(_ context.Context, inv policy.Invocation) (policy.Decision, error) {
	if e.mode == policy.ModeOff {
		return policy.Decision{Allow: true}, nil
	}

	var findings []policy.Finding
	if shellHintedTools[strings.ToLower(inv.ToolName)] {
		if f, ok := e.checkCommandAllowlist(inv.ArgsJSON); ok {
			findings = append(findings, f)
		}
	}
	findings = append(findings, e.checkPathBoundary(inv.ArgsJSON)...)
	findings = append(findings, scanSensitive(inv.ArgsJSON, e.sensitiveKeys)...)

	return e.decide(findings), nil
}

func (e *Engine) PostTool(_ context.Context, res policy.Result) (policy.Decision, error) {
	if e.mode == policy.ModeOff {
		return policy.Decision{Allow: true, Output: res.OutputJSON}, nil
	}

	findings := scanSensitive(res.OutputJSON, e.sensitiveKeys)

	output := res.OutputJSON
	if len(res.OutputJSON) > e.largeOutputBytes {
		truncated, err := truncate(res.OutputJSON, e.largeOutputBytes)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("policy: truncate output: %w", err)
		}
		output = truncated
		findings = append(findings, policy.Finding{
			Check: "output_size", Severity: policy.SeverityWarn,
			Detail: fmt.Sprintf("output of %d bytes truncated to %d byte preview", len(res.OutputJSON), e.largeOutputBytes),
		})
	}

	decision := e.decide(findings)
	decision.Output = output
	return decision, nil
}

func (e *Engine) decide(findings []policy.Finding) policy.Decision {
	allow := true
	for i, f := range findings {
		if f.Severity == policy.SeverityBlock {
			if e.mode == policy.ModeLogOnly {
				findings[i].Severity = policy.SeverityWarn
				continue
			}
			allow = false
		}
	}
	return policy.Decision{Allow: allow, Findings: findings}
}

func (e *Engine) checkCommandAllowlist(argsJSON []byte) (policy.Finding, bool) {
	cmdLine := gjson.GetBytes(argsJSON, "command").String()
	if cmdLine == "" {
		return policy.Finding{}, false
	}
	fields := strings.Fields(cmdLine)
	if len(fields) == 0 {
		return policy.Finding{}, false
	}
	base := filepath.Base(fields[0])
	if _, ok := e.allowedCmds[base]; ok {
		return policy.Finding{}, false
	}
	return policy.Finding{
		Check: "command_allowlist", Severity: policy.SeverityBlock,
		Detail: fmt.Sprintf("command %q is not in the allowlist", base),
	}, true
}

func (e *Engine) checkPathBoundary(argsJSON []byte) []policy.Finding {
	if e.projectRoot == "" {
		return nil
	}
	var findings []policy.Finding
	for _, key := range e.pathArgKeys {
		val := gjson.GetBytes(argsJSON, key)
		if !val.Exists() || val.String() == "" {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(e.projectRoot, val.String()))
		if err != nil {
			continue
		}
		rootAbs, err := filepath.Abs(e.projectRoot)
		if err != nil {
			continue
		}
		if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			findings = append(findings, policy.Finding{
				Check: "path_boundary", Severity: policy.SeverityBlock,
				Detail: fmt.Sprintf("argument %q resolves outside the project root", key),
			})
		}
	}
	return findings
}

func scanSensitive(docJSON []byte, sensitiveKeys map[string]struct{}) []policy.Finding {
	if len(docJSON) == 0 {
		return nil
	}
	var findings []policy.Finding

	result := gjson.ParseBytes(docJSON)
	result.ForEach(func(key, value gjson.Result) bool {
		walkForSensitiveKeys(key.String(), value, sensitiveKeys, &findings)
		return true
	})

	text := string(docJSON)
	for _, pattern := range secretPatterns {
		if pattern.MatchString(text) {
			findings = append(findings, policy.Finding{
				Check: "secret_pattern", Severity: policy.SeverityBlock,
				Detail: "value matches a known credential pattern",
			})
		}
	}
	return findings
}

func walkForSensitiveKeys(path string, value gjson.Result, sensitiveKeys map[string]struct{}, findings *[]policy.Finding) {
	if value.IsObject() {
		value.ForEach(func(key, child gjson.Result) bool {
			childPath := key.String()
			if path != "" {
				childPath = path + "." + childPath
			}
			walkForSensitiveKeys(childPath, child, sensitiveKeys, findings)
			return true
		})
		return
	}
	if value.IsArray() {
		value.ForEach(func(_, child gjson.Result) bool {
			walkForSensitiveKeys(path, child, sensitiveKeys, findings)
			return true
		})
		return
	}

	leafKey := path
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		leafKey = path[idx+1:]
	}
	if _, sensitive := sensitiveKeys[strings.ToLower(leafKey)]; sensitive && value.String() != "" {
		*findings = append(*findings, policy.Finding{
			Check: "sensitive_field", Severity: policy.SeverityBlock,
			Detail: fmt.Sprintf("field %q carries a non-empty sensitive value", path),
		})
	}
}

func truncate(docJSON []byte, maxSize int) ([]byte, error) {
	preview := docJSON
	if len(preview) > maxSize {
		preview = preview[:maxSize]
	}
	out, err := sjson.SetBytes([]byte(`{}`), "truncated", true)
	if err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "preview", string(preview)); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "original_size", len(docJSON)); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "max_size", maxSize); err != nil {
		return nil, err
	}
	return out, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}
