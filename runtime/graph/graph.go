package graph

import "time"

const (
	defaultNodeTimeout       = 120 * time.Second
	defaultNodeRetryInterval = time.Second

	// End is the sentinel "next node" naming the terminal state.
	End = "end"
)

// Router decides a conditional edge's destination from the state the
// upstream node produced.
type Router func(state State) string

// Graph is the static node graph: a fixed node set, unconditional edges, and
// conditional routers for the branch points spec §4.7 names (the
// aesthetic-scoring branch, refine_gate, and the verify pass/fail loop).
type Graph struct {
	nodes   map[string]Node
	order   []string
	next    map[string]string  // unconditional edge
	routers map[string]Router  // conditional edge, consulted instead of next
	start   string
}

// New builds an empty Graph; use AddNode/AddEdge/AddRouter to assemble it,
// or Build for the spec's static site-generation DAG.
func New(start string) *Graph {
	return &Graph{
		nodes:   make(map[string]Node),
		next:    make(map[string]string),
		routers: make(map[string]Router),
		start:   start,
	}
}

// AddNode registers a node.
func (g *Graph) AddNode(n Node) *Graph {
	if _, ok := g.nodes[n.Name]; !ok {
		g.order = append(g.order, n.Name)
	}
	g.nodes[n.Name] = n
	return g
}

// AddEdge wires an unconditional edge from -> to (use End for the terminal).
func (g *Graph) AddEdge(from, to string) *Graph {
	g.next[from] = to
	return g
}

// AddRouter wires a conditional edge: the router inspects the state produced
// by "from" and names the next node directly, overriding any AddEdge target.
func (g *Graph) AddRouter(from string, router Router) *Graph {
	g.routers[from] = router
	return g
}

// Start returns the entry node's name.
func (g *Graph) Start() string { return g.start }

// Node looks up a node by name.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns every node in registration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// Next resolves the node to run after "from", given the state it produced.
// Returns End when the graph has no further edge from "from".
func (g *Graph) Next(from string, state State) string {
	if router, ok := g.routers[from]; ok {
		return router(state)
	}
	if to, ok := g.next[from]; ok {
		return to
	}
	return End
}

// productType reads the classifier-assigned product type out of the
// loosely-typed ProductDoc map node outputs populate.
func productType(state State) string {
	if state.ProductDoc == nil {
		return ""
	}
	if v, ok := state.ProductDoc["product_type"].(string); ok {
		return v
	}
	return ""
}

var aestheticEligibleTypes = map[string]bool{
	"landing":    true,
	"card":       true,
	"invitation": true,
}

// Build assembles the spec §4.7 static DAG:
//
//	mcp_setup -> brief -> style_extractor -> component_registry -> generate
//	generate  -> [aesthetic_scorer -> refine_gate] | refine_gate   (conditional)
//	refine_gate -> refine (user_feedback present) | verify
//	refine -> verify
//	verify -> render (pass, or verify gate disabled) | refine_gate (fail)
//	render -> end
//
// verifyGateEnabled and aestheticScoringEnabled mirror the VERIFY_GATE_ENABLED
// / AESTHETIC_SCORING_ENABLED config toggles (SPEC_FULL §6).
func Build(nodes map[string]NodeFunc, payloads map[string]func(State) map[string]any, aestheticScoringEnabled, verifyGateEnabled bool) *Graph {
	g := New("mcp_setup")
	add := func(name string, class Class) {
		g.AddNode(Node{Name: name, Class: class, Fn: nodes[name], Payload: payloads[name]})
	}
	add("mcp_setup", ClassIO)
	add("brief", ClassLLM)
	add("style_extractor", ClassLLM)
	add("component_registry", ClassLLM)
	add("generate", ClassIO)
	add("aesthetic_scorer", ClassLLM)
	add("refine_gate", ClassLLM)
	add("refine", ClassLLM)
	add("verify", ClassIO)
	add("render", ClassIO)

	g.AddEdge("mcp_setup", "brief")
	g.AddEdge("brief", "style_extractor")
	g.AddEdge("style_extractor", "component_registry")
	g.AddEdge("component_registry", "generate")

	g.AddRouter("generate", func(state State) string {
		if aestheticScoringEnabled && state.AestheticEnabled && aestheticEligibleTypes[productType(state)] {
			return "aesthetic_scorer"
		}
		return "refine_gate"
	})
	g.AddEdge("aesthetic_scorer", "refine_gate")

	g.AddRouter("refine_gate", func(state State) string {
		if state.UserFeedback != "" {
			return "refine"
		}
		return "verify"
	})
	g.AddEdge("refine", "verify")

	g.AddRouter("verify", func(state State) string {
		if !verifyGateEnabled || !state.VerifyBlocked {
			return "render"
		}
		return "refine_gate"
	})
	g.AddEdge("render", End)

	return g
}
