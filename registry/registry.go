// Package registry maintains the process-local agent registry and the parent
// edges between agents. The parent graph is an adjacency lookup from child
// agent id to parent agent ids; it is permitted to contain cycles, so
// consumers walking it (the timeline emitter's propagation) carry an explicit
// visited set.
package registry

import (
	"sync"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
)

// Options configures a Registry.
type Options struct {
	// Notifier receives synchronous agent registered/unregistered signals.
	// Typically the timeline emitter.
	Notifier core.AgentNotifier

	Logger logging.Logger
}

// Registry is a concurrent-safe implementation of core.AgentResolver.
// Unknown ids yield zero values, never errors or panics.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]core.RegisteredAgent
	order   []string
	parents map[string][]string

	notifier core.AgentNotifier
	logger   logging.Logger
}

// New constructs an empty Registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		agents:   map[string]core.RegisteredAgent{},
		parents:  map[string][]string{},
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// Register adds (or replaces) an agent and notifies subscribers. Replacing an
// existing id keeps its parent edges.
func (r *Registry) Register(agent core.RegisteredAgent) {
	r.mu.Lock()
	if _, exists := r.agents[agent.ID]; !exists {
		r.order = append(r.order, agent.ID)
	}
	r.agents[agent.ID] = agent
	r.mu.Unlock()

	r.logger.Debug("registry: registered agent %s (%s)", agent.ID, agent.Name)
	if r.notifier != nil {
		r.notifier.AgentRegistered(agent.ID)
	}
}

// Unregister removes an agent and its parent edges (in both directions) and
// notifies subscribers. Unknown ids are ignored.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	_, exists := r.agents[agentID]
	if exists {
		delete(r.agents, agentID)
		delete(r.parents, agentID)
		for child, ps := range r.parents {
			r.parents[child] = removeID(ps, agentID)
		}
		for i, id := range r.order {
			if id == agentID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !exists {
		return
	}
	r.logger.Debug("registry: unregistered agent %s", agentID)
	if r.notifier != nil {
		r.notifier.AgentUnregistered(agentID)
	}
}

// GetAgent returns the registered agent for an id.
func (r *Registry) GetAgent(agentID string) (core.RegisteredAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// GetAllAgents returns all registered agents in registration order.
func (r *Registry) GetAllAgents() []core.RegisteredAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RegisteredAgent, 0, len(r.order))
	for _, id := range r.order {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// AddParent records a child -> parent edge. Duplicate edges collapse. No
// cycle check is performed: the graph may legitimately contain cycles and
// traversals must defend themselves.
func (r *Registry) AddParent(childID, parentID string) {
	if childID == "" || parentID == "" || childID == parentID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.parents[childID] {
		if id == parentID {
			return
		}
	}
	r.parents[childID] = append(r.parents[childID], parentID)
}

// RemoveParent deletes a child -> parent edge if present.
func (r *Registry) RemoveParent(childID, parentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parents[childID] = removeID(r.parents[childID], parentID)
}

// GetParentAgentIDs returns the parent ids of an agent (copy; possibly empty).
func (r *Registry) GetParentAgentIDs(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps := r.parents[agentID]
	out := make([]string, len(ps))
	copy(out, ps)
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
