// Package agenttrace provides a high-level façade over the execution-trace
// subsystem: the agent registry, the per-agent history managers, and the
// timeline emitter with its background queue. Most applications interact with
// this package by:
//  1. Creating an AgentTrace via New() (optionally overriding the history
//     store, logger, tracer or queue tuning)
//  2. Registering one or more agents (sub-agents are wired automatically)
//  3. Running agents via Run, then flushing telemetry with Shutdown
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable history store and a structured
// logger.
package agenttrace

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agenttrace/agent"
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/evaluation"
	"github.com/hupe1980/agenttrace/history"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/registry"
	"github.com/hupe1980/agenttrace/taskqueue"
	"github.com/hupe1980/agenttrace/timeline"
)

// Options configures the AgentTrace instance.
type Options struct {
	// HistoryStore persists operation records. Defaults to in-memory.
	HistoryStore history.Store

	// Tracer mirrors operations onto OpenTelemetry spans. Optional.
	Tracer trace.Tracer

	// QueueOptions tune the timeline background queue (concurrency, timeouts,
	// drain deadline).
	QueueOptions []func(o *taskqueue.Options)

	// Scorers evaluate finished operations fire-and-forget. Optional.
	Scorers []evaluation.Scorer

	// ScoreSink receives successful scores. Optional.
	ScoreSink evaluation.ScoreSink

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// AgentTrace aggregates the registry, history store, and timeline bus of one
// logical instance. Multiple instances are fully isolated from each other.
type AgentTrace struct {
	opts      Options
	emitter   *timeline.Emitter
	registry  *registry.Registry
	store     history.Store
	evaluator *evaluation.Dispatcher
}

// New creates an AgentTrace instance with optional overrides.
func New(optFns ...func(o *Options)) *AgentTrace {
	opts := Options{
		HistoryStore: history.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	emitter := timeline.NewEmitter(func(o *timeline.Options) {
		o.Logger = opts.Logger
		o.QueueOptions = opts.QueueOptions
	})
	reg := registry.New(func(o *registry.Options) {
		o.Notifier = emitter
		o.Logger = opts.Logger
	})
	emitter.SetResolver(reg)

	at := &AgentTrace{
		opts:     opts,
		emitter:  emitter,
		registry: reg,
		store:    opts.HistoryStore,
	}
	if len(opts.Scorers) > 0 {
		at.evaluator = evaluation.NewDispatcher(opts.Scorers, func(o *evaluation.DispatcherOptions) {
			o.Sink = opts.ScoreSink
			o.Logger = opts.Logger
		})
	}
	return at
}

// RegisterAgent wires an agent into this instance: a history manager scoped
// to the agent, a correlator, a registry entry, and parent edges for every
// sub-agent. Sub-agents are registered recursively.
func (at *AgentTrace) RegisterAgent(a *agent.Agent) {
	mgr := history.NewManager(a.ID(), at.store, func(o *history.ManagerOptions) {
		o.Logger = at.opts.Logger
	})
	correlator := timeline.NewCorrelator(a.ID(), mgr, at.emitter, func(o *timeline.CorrelatorOptions) {
		o.Tracer = at.opts.Tracer
		o.Logger = at.opts.Logger
	})
	a.BindRuntime(&agent.Runtime{
		History:    mgr,
		Correlator: correlator,
		Emitter:    at.emitter,
		Logger:     at.opts.Logger,
	})
	at.registry.Register(core.RegisteredAgent{ID: a.ID(), Name: a.Name(), History: mgr})

	for _, sub := range a.SubAgents() {
		at.RegisterAgent(sub)
		at.registry.AddParent(sub.ID(), a.ID())
	}
}

// UnregisterAgent removes an agent and its parent edges.
func (at *AgentTrace) UnregisterAgent(agentID string) {
	at.registry.Unregister(agentID)
}

// Run executes one operation on a registered agent and, when scorers are
// configured, dispatches the finished operation for evaluation.
func (at *AgentTrace) Run(ctx context.Context, a *agent.Agent, input string, optFns ...func(o *agent.RunOptions)) (*agent.RunResult, error) {
	result, err := a.Run(ctx, input, optFns...)
	if err != nil {
		return nil, err
	}
	if at.evaluator != nil {
		at.evaluator.Dispatch(ctx, evaluation.Sample{
			AgentID:        a.ID(),
			OperationID:    result.OperationID,
			HistoryEntryID: result.HistoryEntryID,
			Input:          input,
			Output:         result.Output,
		})
	}
	return result, nil
}

// History returns the operation records of an agent, oldest first.
func (at *AgentTrace) History(agentID string) []*core.HistoryEntry {
	agent, ok := at.registry.GetAgent(agentID)
	if !ok || agent.History == nil {
		return nil
	}
	return agent.History.Entries()
}

// Emitter exposes the timeline bus, e.g. for subscribing a UI or exporter.
func (at *AgentTrace) Emitter() *timeline.Emitter { return at.emitter }

// Registry exposes the agent registry.
func (at *AgentTrace) Registry() *registry.Registry { return at.registry }

// Shutdown flushes queued timeline work best-effort.
func (at *AgentTrace) Shutdown() {
	at.emitter.Shutdown()
}
