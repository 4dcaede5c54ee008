package graph

import (
	"context"

	"github.com/siteforge-ai/core/runtime/graph/engine"
)

// Class distinguishes the two retry policies spec §4.7 assigns to node
// classes: I/O nodes (mcp_setup, generate, render) max 2 attempts; LLM
// nodes (style_extractor, component_registry, aesthetic_scorer) max 3.
type Class string

const (
	ClassIO  Class = "io"
	ClassLLM Class = "llm"
)

// MaxAttempts returns the node class's retry cap.
func (c Class) MaxAttempts() int {
	if c == ClassLLM {
		return 3
	}
	return 2
}

// NodeFunc is one graph node's body. It receives the state as of entry and
// returns a partial state to merge in, or an error. Returning an error built
// with Interrupted parks the run instead of failing the node.
type NodeFunc func(ctx context.Context, state State) (State, error)

// Node is one named vertex in the static graph.
type Node struct {
	Name string
	Class
	Fn NodeFunc
	// Payload extracts the node-specific "complete" event payload (e.g.
	// generate reports {pages: n}); nil means no extra payload fields.
	Payload func(State) map[string]any
}

// activityOptions converts a node's class into engine retry/timeout options.
func (n Node) activityOptions() engine.ActivityOptions {
	return engine.ActivityOptions{
		RetryPolicy: engine.RetryPolicy{
			MaxAttempts:        n.Class.MaxAttempts(),
			InitialInterval:    defaultNodeRetryInterval,
			BackoffCoefficient: 2,
		},
		Timeout: defaultNodeTimeout,
	}
}
