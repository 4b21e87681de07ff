package core

// RegisteredAgent is the registry's view of an agent: its identity plus the
// history boundary the emitter persists timeline events through.
type RegisteredAgent struct {
	ID      string
	Name    string
	History HistoryAccess
}

// AgentResolver resolves agents and the parent edges between them. The parent
// graph is not guaranteed acyclic; consumers walking it must carry their own
// visited set. Implementations must be safe for concurrent use and return
// empty results for unknown ids rather than failing.
type AgentResolver interface {
	GetAgent(agentID string) (RegisteredAgent, bool)
	GetParentAgentIDs(agentID string) []string
	GetAllAgents() []RegisteredAgent
}

// TimelinePublish is one publish request handed to the emitter.
type TimelinePublish struct {
	AgentID   string
	HistoryID string
	Event     TimelineEvent

	// SkipPropagation suppresses the recursive fan-out to ancestor agents.
	// Set on re-publishes that are themselves a propagation step, so nested
	// publishes never re-trigger propagation (which would duplicate trips in
	// diamond-shaped agent graphs). Carried on the request, not the event,
	// so it is never persisted.
	SkipPropagation bool
}

// TimelinePublisher enqueues timeline events for asynchronous persistence and
// ancestor fan-out. Publishing never blocks on I/O and never returns an
// error; failures are retried by the background queue and ultimately logged.
type TimelinePublisher interface {
	PublishAsync(pub TimelinePublish)
}

// AgentNotifier receives the coarse agent lifecycle signals the registry
// emits on registration changes.
type AgentNotifier interface {
	AgentRegistered(agentID string)
	AgentUnregistered(agentID string)
}
