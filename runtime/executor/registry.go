package executor

import "sync"

// Registry is a concurrency-safe Factory keyed by agent_type, the
// TaskExecutorFactory(agent_type) lookup named in spec §4.6. Registry only
// holds the name -> strategy map; no package in the tree registers a
// strategy implementation in it.
type Registry struct {
	mu    sync.RWMutex
	byTyp map[string]TaskExecutor
}

var _ Factory = (*Registry)(nil)

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byTyp: make(map[string]TaskExecutor)}
}

// Register associates agentType with a TaskExecutor, overwriting any prior
// registration for the same type.
func (r *Registry) Register(agentType string, te TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTyp[agentType] = te
}

// ForAgentType implements Factory.
func (r *Registry) ForAgentType(agentType string) (TaskExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	te, ok := r.byTyp[agentType]
	return te, ok
}
