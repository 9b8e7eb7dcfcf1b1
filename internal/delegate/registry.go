// Package delegate implements C7 (the task executor), C8 (the
// delegation pipeline), and C9 (the agent router): turning one user
// query into a set of tasks, assigning each to an agent, running them
// through the dependency-DAG scheduler, and synthesizing a report.
package delegate

import (
	"sort"
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

// AgentRegistry holds the known agents by name. It is the counterpart of
// the tool registry: agents are matched against tasks by C9, not invoked
// directly by name.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]models.Agent
}

// NewAgentRegistry returns an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]models.Agent)}
}

// Register adds or replaces an agent by name.
func (r *AgentRegistry) Register(agent models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.Name] = agent
}

// Get returns the agent with the given name.
func (r *AgentRegistry) Get(name string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// List returns all registered agents sorted by name.
func (r *AgentRegistry) List() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}
