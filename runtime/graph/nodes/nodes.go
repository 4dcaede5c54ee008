// Package nodes wires the Graph Executor's ten static DAG nodes (spec §4.7)
// to their real collaborators: the MCP client, classifier, style extractor,
// component registry, LLM provider, HTML renderer, workspace, and generated-
// app data store. graph.Build only knows node names and a NodeFunc map; this
// package is what supplies that map for a live deployment, the way goa-ai's
// example/cmd/assistant wires concrete tool implementations behind its
// agent's generic dispatch loop.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/siteforge-ai/core/runtime/collaborators"
	"github.com/siteforge-ai/core/runtime/graph"
	"github.com/siteforge-ai/core/runtime/graph/verify"
	"github.com/siteforge-ai/core/runtime/mcpclient"
	"github.com/siteforge-ai/core/runtime/policy"
	"github.com/siteforge-ai/core/runtime/registry"
	"github.com/siteforge-ai/core/runtime/styleextractor"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

const defaultProductType = "landing"

const aestheticSystemPrompt = `You score the aesthetic quality of a generated page on a 0 to 1 scale.
Respond with a JSON object only, mapping each page name to a numeric score.`

const refineSystemPrompt = `You revise a design's style tokens given user feedback on a generated page.
Respond with a JSON object only, containing the style token keys to change.`

const defaultAestheticScore = 0.75

// Deps collects every collaborator a Builder needs. Each is independently
// optional (nil): a deployment without aesthetic scoring wired, for
// instance, leaves LLM set and just accepts the default score, while one
// with no MCP servers configured leaves MCP nil and mcp_setup becomes a
// no-op.
type Deps struct {
	MCP        *mcpclient.Client
	Classifier collaborators.Classifier
	Style      *styleextractor.Extractor
	Registry   *registry.Registry
	LLM        collaborators.LLMProvider
	Renderer   collaborators.HTMLRenderer
	Workspace  collaborators.Workspace
	DataStore  collaborators.DataStore

	// Policy gates CallTool invocations when set; nil runs every call
	// ungated (equivalent to runtime/policy.ModeOff).
	Policy policy.Engine

	// Model names the LLM model passed in every CompletionRequest.
	Model string
	// AppVersion is reported to MCP servers during connect; defaults to "dev".
	AppVersion string
	Logger     telemetry.Logger
}

// Builder holds the wired collaborators and exposes Build to assemble the
// production graph.Graph.
type Builder struct {
	mcp        *mcpclient.Client
	classifier collaborators.Classifier
	style      *styleextractor.Extractor
	registry   *registry.Registry
	llm        collaborators.LLMProvider
	renderer   collaborators.HTMLRenderer
	workspace  collaborators.Workspace
	datastore  collaborators.DataStore
	policy     policy.Engine

	model      string
	appVersion string
	logger     telemetry.Logger
	reviewed   *reviewSet
}

// New builds a Builder from Deps.
func New(d Deps) *Builder {
	logger := d.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	appVersion := d.AppVersion
	if appVersion == "" {
		appVersion = "dev"
	}
	return &Builder{
		mcp:        d.MCP,
		classifier: d.Classifier,
		style:      d.Style,
		registry:   d.Registry,
		llm:        d.LLM,
		renderer:   d.Renderer,
		workspace:  d.Workspace,
		datastore:  d.DataStore,
		policy:     d.Policy,
		model:      d.Model,
		appVersion: appVersion,
		logger:     logger,
		reviewed:   newReviewSet(),
	}
}

// Build assembles the production graph.Graph, wiring every node's Fn and
// Payload to this Builder's collaborators.
func (b *Builder) Build(aestheticScoringEnabled, verifyGateEnabled bool) *graph.Graph {
	fns := map[string]graph.NodeFunc{
		"mcp_setup":          b.mcpSetup,
		"brief":              b.brief,
		"style_extractor":    b.styleExtractor,
		"component_registry": b.componentRegistry,
		"generate":           b.generate,
		"aesthetic_scorer":   b.aestheticScorer,
		"refine_gate":        b.refineGate,
		"refine":             b.refine,
		"verify":             b.verify,
		"render":             b.render,
	}
	payloads := map[string]func(graph.State) map[string]any{
		"generate": func(s graph.State) map[string]any { return map[string]any{"pages": len(s.Pages)} },
		"verify": func(s graph.State) map[string]any {
			passed, _ := s.VerifyReport["passed"].(bool)
			return map[string]any{"passed": passed}
		},
		"render": func(s graph.State) map[string]any { return map[string]any{"build_status": s.BuildStatus} },
	}
	return graph.Build(fns, payloads, aestheticScoringEnabled, verifyGateEnabled)
}

// mcpSetup connects every configured MCP server and records which ones
// failed rather than aborting the run; the Policy Engine and generate node
// both tolerate a partial tool set.
func (b *Builder) mcpSetup(ctx context.Context, _ graph.State) (graph.State, error) {
	if b.mcp == nil {
		return graph.State{}, nil
	}
	b.mcp.Connect(ctx, "siteforge", b.appVersion)
	tools, err := b.mcp.ListAllTools(ctx)
	if err != nil {
		b.logger.Warn(ctx, "nodes: mcp_setup: some servers failed to list tools", "error", err)
	}
	failed := b.mcp.FailedServers()
	return graph.State{BuildArtifacts: map[string]any{
		"mcp_tool_count":     len(tools),
		"mcp_failed_servers": failed,
	}}, nil
}

// brief classifies the user's input into a product type, consumed by the
// aesthetic-scoring router and the component registry lookup.
func (b *Builder) brief(ctx context.Context, state graph.State) (graph.State, error) {
	productType := defaultProductType
	confidence := 0.0
	if b.classifier != nil {
		pt, conf, err := b.classifier.Classify(ctx, state.UserInput)
		if err != nil {
			b.logger.Warn(ctx, "nodes: brief: classify failed, defaulting product type", "error", err)
		} else if pt != "" {
			productType, confidence = pt, conf
		}
	}
	return graph.State{ProductDoc: map[string]any{
		"user_input":   state.UserInput,
		"product_type": productType,
		"confidence":   confidence,
	}}, nil
}

// styleExtractor turns the run's style reference (stashed under the
// StyleTokens "_reference" key by the Orchestrator Façade) into concrete
// style tokens.
func (b *Builder) styleExtractor(ctx context.Context, state graph.State) (graph.State, error) {
	if b.style == nil {
		return graph.State{}, nil
	}
	reference, _ := state.StyleTokens["_reference"].(string)
	tokens, err := b.style.Extract(ctx, reference)
	if err != nil {
		b.logger.Warn(ctx, "nodes: style_extractor: falling back to heuristic tokens", "error", err)
	}
	return graph.State{StyleTokens: tokens}, nil
}

// componentRegistry looks up the component catalog entries available to the
// brief's classified product type.
func (b *Builder) componentRegistry(_ context.Context, state graph.State) (graph.State, error) {
	if b.registry == nil {
		return graph.State{}, nil
	}
	return graph.State{ComponentRegistry: b.registry.AsDocument(productTypeOf(state))}, nil
}

// generate renders every target page (defaulting to a single "home" page)
// and writes it to the run's workspace, seeding an initially-permissive
// data_model/page_schemas pair the refine and verify nodes then tighten.
func (b *Builder) generate(ctx context.Context, state graph.State) (graph.State, error) {
	pages := state.Pages
	if len(pages) == 0 {
		pages = []string{"home"}
	}

	dataModel := make(map[string]any, len(pages))
	pageSchemas := make(map[string]any, len(pages))
	for _, page := range pages {
		dataModel[page] = map[string]any{}
		pageSchemas[page] = map[string]any{"type": "object"}

		if b.renderer == nil || b.workspace == nil {
			continue
		}
		out, err := b.renderer.Render(ctx, collaborators.RenderInput{
			PageName:    page,
			Components:  state.ComponentRegistry,
			StyleTokens: state.StyleTokens,
		})
		if err != nil {
			return graph.State{}, fmt.Errorf("nodes: generate: render %q: %w", page, err)
		}
		if err := b.workspace.WriteFile(ctx, state.RunID, page+".html", []byte(out.HTML)); err != nil {
			return graph.State{}, fmt.Errorf("nodes: generate: write %q: %w", page, err)
		}
	}
	return graph.State{Pages: pages, DataModel: dataModel, PageSchemas: pageSchemas}, nil
}

// aestheticScorer asks the LLM to score each generated page, falling back to
// a flat default score when no LLM is wired or the call fails; it only runs
// at all when the generate router decided aesthetic scoring applies.
func (b *Builder) aestheticScorer(ctx context.Context, state graph.State) (graph.State, error) {
	scores := make(map[string]any, len(state.Pages))
	fallback := func() (graph.State, error) {
		for _, page := range state.Pages {
			scores[page] = defaultAestheticScore
		}
		return graph.State{AestheticScores: scores}, nil
	}
	if b.llm == nil {
		return fallback()
	}

	resp, err := b.llm.Complete(ctx, collaborators.CompletionRequest{
		Model: b.model,
		Messages: []collaborators.ChatMessage{
			{Role: "system", Content: aestheticSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("pages: %v\nstyle_tokens: %v", state.Pages, state.StyleTokens)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		b.logger.Warn(ctx, "nodes: aesthetic_scorer: llm completion failed, using default score", "error", err)
		return fallback()
	}
	if obj, ok := firstJSONObject(resp.Content); ok {
		if err := json.Unmarshal(obj, &scores); err == nil && len(scores) > 0 {
			return graph.State{AestheticScores: scores}, nil
		}
	}
	return fallback()
}

// refineGate is the human-in-the-loop gate between generate and verify. A
// fresh arrival (not a verify-failure loop-back) interrupts exactly once per
// run to solicit feedback; the reviewed marker — a process-local, run-id
// keyed set in the texture of run.CancelSet (spec §7 sanctions exactly this
// kind of mutable marker) — is what lets a second arrival via Resume tell
// the router apart from the first. A verify-failure loop-back instead
// synthesizes feedback from the verify report and never interrupts, so a
// failing page is retried automatically rather than parking on the user
// again.
func (b *Builder) refineGate(_ context.Context, state graph.State) (graph.State, error) {
	if state.VerifyBlocked {
		return graph.State{UserFeedback: verifyFeedback(state.VerifyReport)}, nil
	}
	if b.reviewed.markIfAbsent(state.RunID) {
		return graph.State{}, graph.Interrupted(graph.Interrupt{
			Type:    "await_feedback",
			Message: "Generated pages are ready for review. Resume with feedback to refine, or no feedback to accept.",
			Payload: map[string]any{"pages": state.Pages},
		})
	}
	return graph.State{}, nil
}

// refine applies user feedback to the style tokens and re-renders every
// page; it only runs when refine_gate's router sees non-empty feedback.
func (b *Builder) refine(ctx context.Context, state graph.State) (graph.State, error) {
	tokens := cloneAny(state.StyleTokens)
	if b.llm != nil {
		resp, err := b.llm.Complete(ctx, collaborators.CompletionRequest{
			Model: b.model,
			Messages: []collaborators.ChatMessage{
				{Role: "system", Content: refineSystemPrompt},
				{Role: "user", Content: state.UserFeedback},
			},
			Temperature: 0.3,
		})
		if err != nil {
			return graph.State{}, fmt.Errorf("nodes: refine: llm completion: %w", err)
		}
		if obj, ok := firstJSONObject(resp.Content); ok {
			var adjustments map[string]any
			if err := json.Unmarshal(obj, &adjustments); err == nil {
				for k, v := range adjustments {
					tokens[k] = v
				}
			}
		}
	}

	if b.renderer == nil || b.workspace == nil {
		return graph.State{StyleTokens: tokens}, nil
	}
	for _, page := range state.Pages {
		out, err := b.renderer.Render(ctx, collaborators.RenderInput{
			PageName:    page,
			Components:  state.ComponentRegistry,
			StyleTokens: tokens,
			Data:        asMap(state.DataModel[page]),
		})
		if err != nil {
			return graph.State{}, fmt.Errorf("nodes: refine: render %q: %w", page, err)
		}
		if err := b.workspace.WriteFile(ctx, state.RunID, page+".html", []byte(out.HTML)); err != nil {
			return graph.State{}, fmt.Errorf("nodes: refine: write %q: %w", page, err)
		}
	}
	return graph.State{StyleTokens: tokens}, nil
}

// verify validates every page's data_model entry against its page_schemas
// entry; the verify router (graph.Build) decides whether a failure loops
// back to refine_gate or, with the verify gate disabled, is ignored.
func (b *Builder) verify(_ context.Context, state graph.State) (graph.State, error) {
	report, err := verify.Pages(state.PageSchemas, state.DataModel)
	if err != nil {
		return graph.State{}, fmt.Errorf("nodes: verify: %w", err)
	}
	errs := make(map[string]any, len(report.Errors))
	for page, detail := range report.Errors {
		errs[page] = detail
	}
	return graph.State{
		VerifyReport:  map[string]any{"passed": report.Passed, "errors": errs},
		VerifyBlocked: !report.Passed,
	}, nil
}

// render provisions the generated app's own data backend and marks the run
// complete. It clears the refine_gate reviewed marker so the process-local
// set does not grow unbounded over the server's lifetime.
func (b *Builder) render(ctx context.Context, state graph.State) (graph.State, error) {
	defer b.reviewed.clear(state.RunID)

	if b.datastore != nil {
		if err := b.datastore.CreateSchema(ctx, state.RunID); err != nil {
			return graph.State{}, fmt.Errorf("nodes: render: create schema: %w", err)
		}
		if err := b.datastore.CreateTables(ctx, state.RunID, state.DataModel); err != nil {
			return graph.State{}, fmt.Errorf("nodes: render: create tables: %w", err)
		}
	}
	return graph.State{BuildStatus: "completed"}, nil
}

// CallTool invokes an MCP tool through the configured client, gating the
// call through the Policy Engine when one is wired: PreTool runs the
// command-allowlist/path-boundary/sensitive-content checks against the call
// arguments before the tool runs, PostTool truncates an oversized result
// afterward. This is the Policy Engine's call site — none of the ten static
// nodes invoke a tool directly today, but any node that grows one (an
// MCP-backed asset fetch during generate, say) should route through this
// rather than mcpclient.Client directly, the same way goa-ai's agent loop
// never calls a tool without going through its policy check first.
func (b *Builder) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (map[string]any, error) {
	if b.mcp == nil {
		return nil, fmt.Errorf("nodes: CallTool: no MCP client configured")
	}

	if b.policy != nil {
		argsJSON, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("nodes: CallTool: marshal args: %w", err)
		}
		decision, err := b.policy.PreTool(ctx, policy.Invocation{ToolName: toolName, ArgsJSON: argsJSON})
		if err != nil {
			return nil, fmt.Errorf("nodes: CallTool: policy pretool check: %w", err)
		}
		if !decision.Allow {
			return nil, fmt.Errorf("nodes: CallTool: blocked by policy: %v", decision.Findings)
		}
	}

	result, err := b.mcp.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return nil, fmt.Errorf("nodes: CallTool: %w", err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("nodes: CallTool: marshal result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("nodes: CallTool: decode result: %w", err)
	}

	if b.policy == nil {
		return out, nil
	}
	decision, err := b.policy.PostTool(ctx, policy.Result{OutputJSON: raw})
	if err != nil {
		return nil, fmt.Errorf("nodes: CallTool: policy posttool check: %w", err)
	}
	if len(decision.Output) > 0 {
		var rewritten map[string]any
		if err := json.Unmarshal(decision.Output, &rewritten); err == nil {
			out = rewritten
		}
	}
	return out, nil
}

func productTypeOf(state graph.State) string {
	if v, ok := state.ProductDoc["product_type"].(string); ok && v != "" {
		return v
	}
	return defaultProductType
}

func verifyFeedback(report map[string]any) string {
	errs, _ := report["errors"].(map[string]any)
	if len(errs) == 0 {
		return "Fix the pages that failed verification."
	}
	var sb strings.Builder
	sb.WriteString("Fix validation errors: ")
	first := true
	for page, detail := range errs {
		if !first {
			sb.WriteString("; ")
		}
		first = false
		fmt.Fprintf(&sb, "%s: %v", page, detail)
	}
	return sb.String()
}

func cloneAny(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// firstJSONObject trims an LLM response down to its first {...} span, in
// case the model wrapped the JSON in prose or a markdown code fence.
func firstJSONObject(content string) ([]byte, bool) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return nil, false
	}
	return []byte(content[start : end+1]), true
}

// reviewSet is the process-local, run-id keyed marker refineGate uses to
// tell a fresh arrival from a post-resume one, mirroring run.CancelSet's
// mutex-guarded map-of-string-ids shape.
type reviewSet struct {
	mu       sync.Mutex
	reviewed map[string]bool
}

func newReviewSet() *reviewSet { return &reviewSet{reviewed: make(map[string]bool)} }

// markIfAbsent marks runID reviewed and reports true the first time it is
// called for a given id; every subsequent call reports false until clear.
func (s *reviewSet) markIfAbsent(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reviewed[runID] {
		return false
	}
	s.reviewed[runID] = true
	return true
}

func (s *reviewSet) clear(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reviewed, runID)
}
