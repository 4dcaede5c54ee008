// Package styleextractor implements the style_extractor graph node's
// logic: turning a free-form style_reference (a URL or descriptive text)
// into the style_tokens map the generate node consumes. It asks the
// collaborators.LLMProvider to name concrete tokens, then falls back to a
// small heuristic scan (hex colors, named fonts) so a failed or empty LLM
// response still yields a usable, if sparse, token set.
package styleextractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/siteforge-ai/core/runtime/collaborators"
)

const systemPrompt = `You extract a design style token set from a user's description or reference.
Respond with a JSON object only, with keys among: primary_color, secondary_color, accent_color,
font_family, heading_font_family, tone, border_radius. Omit keys you cannot infer.`

// Extractor turns a style reference into a style_tokens document.
type Extractor struct {
	llm   collaborators.LLMProvider
	model string
}

// New builds an Extractor. model names the LLM model passed in every
// CompletionRequest (e.g. "claude-3-5-sonnet").
func New(llm collaborators.LLMProvider, model string) *Extractor {
	return &Extractor{llm: llm, model: model}
}

// Extract returns the style_tokens map for styleReference, which may be a
// URL, a short phrase ("warm, earthy, minimalist"), or empty (in which
// case only the heuristic defaults apply).
func (e *Extractor) Extract(ctx context.Context, styleReference string) (map[string]any, error) {
	tokens := heuristicTokens(styleReference)

	if e.llm == nil || strings.TrimSpace(styleReference) == "" {
		return tokens, nil
	}

	resp, err := e.llm.Complete(ctx, collaborators.CompletionRequest{
		Model: e.model,
		Messages: []collaborators.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: styleReference},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return tokens, fmt.Errorf("styleextractor: llm completion failed, using heuristic tokens only: %w", err)
	}

	var llmTokens map[string]any
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &llmTokens); err != nil {
		return tokens, nil
	}
	for k, v := range llmTokens {
		tokens[k] = v
	}
	return tokens, nil
}

var hexColorPattern = regexp.MustCompile(`#[0-9a-fA-F]{3,8}\b`)

var knownFonts = []string{"inter", "helvetica", "georgia", "roboto", "poppins", "montserrat", "lato", "playfair display"}

// heuristicTokens scans free text for an explicit hex color and any font
// family name from a small known list, independent of any LLM call.
func heuristicTokens(text string) map[string]any {
	tokens := make(map[string]any)
	if m := hexColorPattern.FindString(text); m != "" {
		tokens["primary_color"] = m
	}
	lower := strings.ToLower(text)
	for _, font := range knownFonts {
		if strings.Contains(lower, font) {
			tokens["font_family"] = font
			break
		}
	}
	return tokens
}

// extractJSONObject trims an LLM response down to its first {...} span, in
// case the model wrapped the JSON in prose or a markdown code fence.
func extractJSONObject(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return "{}"
	}
	return content[start : end+1]
}
