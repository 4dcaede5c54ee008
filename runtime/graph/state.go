package graph

// State is the typed shared record flowing through the Graph Executor,
// mirroring spec §4's GraphState fields. Node handlers read relevant fields
// and return a partial State that the executor merges into the running copy.
type State struct {
	UserInput         string         `json:"user_input,omitempty"`
	Assets            []string       `json:"assets,omitempty"`
	ProductDoc        map[string]any `json:"product_doc,omitempty"`
	Pages             []string       `json:"pages,omitempty"`
	DataModel         map[string]any `json:"data_model,omitempty"`
	StyleTokens       map[string]any `json:"style_tokens,omitempty"`
	ComponentRegistry map[string]any `json:"component_registry,omitempty"`
	PageSchemas       map[string]any `json:"page_schemas,omitempty"`
	AestheticEnabled  bool           `json:"aesthetic_enabled,omitempty"`
	AestheticScores   map[string]any `json:"aesthetic_scores,omitempty"`
	UserFeedback      string         `json:"user_feedback,omitempty"`
	BuildArtifacts    map[string]any `json:"build_artifacts,omitempty"`
	BuildStatus       string         `json:"build_status,omitempty"`
	RunID             string         `json:"run_id,omitempty"`
	RunStatus         string         `json:"run_status,omitempty"`
	VerifyReport      map[string]any `json:"verify_report,omitempty"`
	VerifyBlocked     bool           `json:"verify_blocked,omitempty"`
	CurrentNode       string         `json:"current_node,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// Merge overlays non-zero fields of patch onto a copy of s. Slice/map fields
// replace wholesale rather than deep-merging: the Graph Executor treats each
// node's returned State as authoritative for the fields it sets, unlike the
// versioning services' deep-merge semantics (runtime/versioning's ProductDoc
// update uses mergo for that case instead).
func (s State) Merge(patch State) State {
	out := s
	if patch.UserInput != "" {
		out.UserInput = patch.UserInput
	}
	if patch.Assets != nil {
		out.Assets = patch.Assets
	}
	if patch.ProductDoc != nil {
		out.ProductDoc = patch.ProductDoc
	}
	if patch.Pages != nil {
		out.Pages = patch.Pages
	}
	if patch.DataModel != nil {
		out.DataModel = patch.DataModel
	}
	if patch.StyleTokens != nil {
		out.StyleTokens = patch.StyleTokens
	}
	if patch.ComponentRegistry != nil {
		out.ComponentRegistry = patch.ComponentRegistry
	}
	if patch.PageSchemas != nil {
		out.PageSchemas = patch.PageSchemas
	}
	if patch.AestheticScores != nil {
		out.AestheticScores = patch.AestheticScores
	}
	if patch.UserFeedback != "" {
		out.UserFeedback = patch.UserFeedback
	}
	if patch.BuildArtifacts != nil {
		out.BuildArtifacts = patch.BuildArtifacts
	}
	if patch.BuildStatus != "" {
		out.BuildStatus = patch.BuildStatus
	}
	if patch.RunStatus != "" {
		out.RunStatus = patch.RunStatus
	}
	if patch.VerifyReport != nil {
		out.VerifyReport = patch.VerifyReport
	}
	if patch.CurrentNode != "" {
		out.CurrentNode = patch.CurrentNode
	}
	if patch.Error != "" {
		out.Error = patch.Error
	}
	out.AestheticEnabled = patch.AestheticEnabled || out.AestheticEnabled
	out.VerifyBlocked = patch.VerifyBlocked
	return out
}
