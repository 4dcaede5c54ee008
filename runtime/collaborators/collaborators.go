// Package collaborators defines the external-system contracts the core
// calls through but never implements: LLM inference, workspace file I/O,
// HTML rendering, generated-app data storage, and product-type
// classification are all deliberately out of scope (spec.md §1). Shapes
// are grounded on goa-ai's runtime/agents/model.Client (LLMProvider) and
// registry.Service's DataStore-shaped operations; concrete callers wire a
// real implementation, tests use the in-memory fakes in this package.
package collaborators

import "context"

type (
	// LLMProvider is a provider-agnostic chat-completion abstraction,
	// generalized from goa-ai's agents/model.Client so graph nodes that
	// need model inference (style_extractor, component_registry,
	// aesthetic_scorer, refine) depend on this narrow interface rather
	// than a specific vendor SDK.
	LLMProvider interface {
		Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	}

	// CompletionRequest is the normalized input to one LLM call.
	CompletionRequest struct {
		Model       string
		Messages    []ChatMessage
		Temperature float32
		MaxTokens   int
	}

	// ChatMessage is one turn in a chat history.
	ChatMessage struct {
		Role    string
		Content string
	}

	// CompletionResponse is an LLM call's result.
	CompletionResponse struct {
		Content string
		Usage   TokenUsage
	}

	// TokenUsage reports token accounting when the provider exposes it.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}

	// Workspace abstracts file-tree I/O for a run's generated project,
	// keeping the graph nodes that write pages/assets independent of
	// where the workspace physically lives (local disk, container
	// volume, object storage).
	Workspace interface {
		WriteFile(ctx context.Context, runID, path string, content []byte) error
		ReadFile(ctx context.Context, runID, path string) ([]byte, error)
		ListFiles(ctx context.Context, runID string) ([]string, error)
		DeleteFile(ctx context.Context, runID, path string) error
	}

	// HTMLRenderer turns component descriptors and style tokens into
	// markup; the core's Component Registry and Style Extractor only
	// supply structured input, never author HTML themselves (spec.md §1
	// non-goal).
	HTMLRenderer interface {
		Render(ctx context.Context, page RenderInput) (RenderOutput, error)
		Diff(ctx context.Context, before, after RenderOutput) (string, error)
		Preview(ctx context.Context, page RenderOutput) (previewURL string, err error)
	}

	// RenderInput is one page's structured description: the component
	// tree, style tokens, and page-specific data.
	RenderInput struct {
		PageName    string
		Components  map[string]any
		StyleTokens map[string]any
		Data        map[string]any
	}

	// RenderOutput is a rendered page's markup plus the hash the verify
	// node can compare across refine iterations.
	RenderOutput struct {
		PageName string
		HTML     string
		Hash     string
	}

	// DataStore provisions and populates the generated app's own data
	// backend (distinct from the orchestrator's own sqlstore), matching
	// the CreateSchema/CreateTables/Insert/Query/DropSchema shape
	// SPEC_FULL §6 names.
	DataStore interface {
		CreateSchema(ctx context.Context, runID string) error
		CreateTables(ctx context.Context, runID string, dataModel map[string]any) error
		Insert(ctx context.Context, runID, table string, rows []map[string]any) error
		Query(ctx context.Context, runID, table string, filter map[string]any) ([]map[string]any, error)
		DropSchema(ctx context.Context, runID string) error
	}

	// Classifier assigns a product type (landing, card, invitation, blog,
	// ...) to a user's brief, consumed by the brief node and by the
	// Graph's aesthetic-scoring router.
	Classifier interface {
		Classify(ctx context.Context, userInput string) (productType string, confidence float64, err error)
	}
)
