package timeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/taskqueue"
)

// HistoryUpdate is the signal delivered to history subscribers after an entry
// was created or changed. Entry is the refreshed clone after the write; Event
// is zero-valued for entry-level updates that did not persist a new event.
type HistoryUpdate struct {
	AgentID   string
	HistoryID string
	Entry     *core.HistoryEntry
	Event     core.TimelineEvent
	Created   bool
	Seq       int64
}

// AgentChange is the signal delivered to agent subscribers when an agent is
// registered or unregistered.
type AgentChange struct {
	AgentID    string
	Registered bool
	Seq        int64
}

// Options configures an Emitter.
type Options struct {
	Logger logging.Logger

	// QueueOptions tune the dedicated background queue (concurrency, timeouts,
	// drain deadline).
	QueueOptions []func(o *taskqueue.Options)
}

// Emitter is the process-local timeline bus. It owns one background task
// queue dedicated to timeline work, persists published events against the
// owning agent's history, notifies local subscribers synchronously, and
// mirrors events into ancestor timelines.
//
// Publishing never blocks on persistence and never returns an error: failures
// are retried by the queue and ultimately logged.
type Emitter struct {
	queue  *taskqueue.Queue
	logger logging.Logger

	// seq is seeded with wall-clock millis so sequence numbers are roughly
	// comparable across process restarts without being strictly monotonic.
	seq atomic.Int64

	mu          sync.RWMutex
	resolver    core.AgentResolver
	historySubs map[int]func(HistoryUpdate)
	agentSubs   map[int]func(AgentChange)
	nextSub     int
}

// NewEmitter constructs an Emitter with its own background queue. The agent
// resolver is attached afterwards via SetResolver because the registry that
// provides it subscribes to this emitter in turn.
func NewEmitter(optFns ...func(o *Options)) *Emitter {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	queueOpts := append([]func(o *taskqueue.Options){func(o *taskqueue.Options) {
		o.Logger = opts.Logger
	}}, opts.QueueOptions...)

	e := &Emitter{
		queue:       taskqueue.New(queueOpts...),
		logger:      opts.Logger,
		historySubs: map[int]func(HistoryUpdate){},
		agentSubs:   map[int]func(AgentChange){},
	}
	e.seq.Store(time.Now().UnixMilli())
	return e
}

// SetResolver attaches the agent resolver used to look up publish targets and
// parent edges. Events published before a resolver is attached are dropped
// with a warning.
func (e *Emitter) SetResolver(resolver core.AgentResolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolver = resolver
}

func (e *Emitter) currentResolver() core.AgentResolver {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolver
}

// PublishAsync enqueues a timeline event for persistence on the target
// agent's history entry. The event gets an id and start time when absent and
// is deep-cloned before enqueueing, so the caller may reuse or mutate its
// copy freely afterwards. Once persisted, history subscribers are notified
// and, unless the request skips it, the event is propagated to ancestors.
func (e *Emitter) PublishAsync(pub core.TimelinePublish) {
	if pub.Event.ID == "" {
		pub.Event.ID = core.NewID()
	}
	if pub.Event.StartTime == "" {
		pub.Event.StartTime = core.Timestamp()
	}
	pub.Event = pub.Event.Clone()

	e.queue.Enqueue(taskqueue.Task{
		ID: "timeline:" + pub.Event.Name + ":" + pub.Event.ID,
		Operation: func(ctx context.Context) error {
			return e.processEvent(pub)
		},
		MaxRetries: taskqueue.UseDefault,
	})
}

// processEvent is the queued half of PublishAsync. Missing agents and
// vanished history entries are silent no-ops: the event is low-criticality
// telemetry and its target may legitimately be gone by the time the queue
// gets to it.
func (e *Emitter) processEvent(pub core.TimelinePublish) error {
	resolver := e.currentResolver()
	if resolver == nil {
		e.logger.Warn("timeline: dropping event %s, no agent resolver attached", pub.Event.ID)
		return nil
	}

	agent, ok := resolver.GetAgent(pub.AgentID)
	if !ok || agent.History == nil {
		e.logger.Debug("timeline: dropping event %s for unknown agent %s", pub.Event.ID, pub.AgentID)
		return nil
	}

	entry := agent.History.PersistTimelineEvent(pub.HistoryID, pub.Event)
	if entry == nil {
		e.logger.Debug("timeline: history entry %s gone for agent %s, skipping event %s", pub.HistoryID, pub.AgentID, pub.Event.ID)
		return nil
	}

	e.notifyHistory(HistoryUpdate{
		AgentID:   pub.AgentID,
		HistoryID: pub.HistoryID,
		Entry:     entry,
		Event:     pub.Event,
	})

	if !pub.SkipPropagation {
		e.propagateToParents(pub.AgentID, pub.Event, newVisitSet())
	}
	return nil
}

// PropagateEvent fans an already persisted event out to ancestor timelines
// without re-persisting it on the owning agent. Used for tracked events the
// correlator writes synchronously and for derived lifecycle summaries.
func (e *Emitter) PropagateEvent(agentID string, event core.TimelineEvent) {
	ev := event.Clone()
	e.queue.Enqueue(taskqueue.Task{
		ID: "propagate:" + ev.Name + ":" + ev.ID,
		Operation: func(ctx context.Context) error {
			e.propagateToParents(agentID, ev, newVisitSet())
			return nil
		},
		MaxRetries: taskqueue.UseDefault,
	})
}

// PropagateSubAgentStart mirrors a subagent's start into every ancestor
// timeline as an agent:start summary event.
func (e *Emitter) PropagateSubAgentStart(agentID string, input any) {
	ev := core.NewTimelineEvent(core.EventAgentStart, core.EventTypeAgent, "")
	ev.Input = input
	ev.Metadata[core.MetadataAgentID] = agentID
	e.PropagateEvent(agentID, ev)
}

// PropagateSubAgentEnd mirrors a subagent's terminal transition into every
// ancestor timeline as an agent:success or agent:error summary event.
func (e *Emitter) PropagateSubAgentEnd(agentID, status string, output, errValue any) {
	name := core.EventAgentSuccess
	if status == core.StatusError {
		name = core.EventAgentError
	}
	ev := core.NewTimelineEvent(name, core.EventTypeAgent, "")
	ev.Status = status
	ev.EndTime = core.Timestamp()
	ev.Output = output
	ev.Error = errValue
	ev.Metadata[core.MetadataAgentID] = agentID
	e.PropagateEvent(agentID, ev)
}

// propagateToParents walks the parent graph upwards from agentID, publishing
// a fresh copy of the event into each ancestor's currently active history
// entry. The visited set is shared across the whole recursive walk, so each
// agent is expanded at most once per origin publish even when the graph
// contains cycles or diamonds. Siblings of one level run concurrently; a
// failure in one branch is logged and never aborts the others.
func (e *Emitter) propagateToParents(agentID string, event core.TimelineEvent, visited *visitSet) {
	if !visited.Add(agentID) {
		return
	}
	resolver := e.currentResolver()
	if resolver == nil {
		return
	}
	parentIDs := resolver.GetParentAgentIDs(agentID)
	if len(parentIDs) == 0 {
		return
	}

	// Ancestors attribute the copy to the event's original producer, so the
	// tag is set once and survives the rest of the ascent.
	tagged := event.Clone()
	if _, ok := tagged.Metadata[core.MetadataAgentID]; !ok {
		tagged.Metadata[core.MetadataAgentID] = agentID
	}

	var wg sync.WaitGroup
	for _, parentID := range parentIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer core.Recover(e.logger, "timeline propagation to agent "+parentID)
			e.propagateToParent(parentID, tagged, visited)
		}()
	}
	wg.Wait()
}

func (e *Emitter) propagateToParent(parentID string, tagged core.TimelineEvent, visited *visitSet) {
	resolver := e.currentResolver()
	if resolver == nil {
		return
	}
	parent, ok := resolver.GetAgent(parentID)
	if !ok || parent.History == nil {
		e.logger.Debug("timeline: skipping propagation to unknown agent %s", parentID)
		return
	}
	active := parent.History.ActiveEntry()
	if active == nil {
		e.logger.Debug("timeline: agent %s has no active history entry, skipping propagation", parentID)
		return
	}

	cp := tagged.Clone()
	cp.ID = core.NewID()
	// The re-publish is itself the propagation step for this parent; the
	// ascent to grandparents continues below on the shared visited set. A
	// nested publish re-triggering propagation would duplicate trips in
	// diamond-shaped graphs.
	e.PublishAsync(core.TimelinePublish{
		AgentID:         parentID,
		HistoryID:       active.ID,
		Event:           cp,
		SkipPropagation: true,
	})

	e.propagateToParents(parentID, tagged, visited)
}

// SubscribeHistory registers a synchronous callback for history updates. The
// returned function removes the subscription.
func (e *Emitter) SubscribeHistory(fn func(HistoryUpdate)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.historySubs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.historySubs, id)
	}
}

// SubscribeAgents registers a synchronous callback for agent registration
// changes. The returned function removes the subscription.
func (e *Emitter) SubscribeAgents(fn func(AgentChange)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.agentSubs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.agentSubs, id)
	}
}

// NotifyHistoryCreated announces a freshly created history entry to
// subscribers. Called by the correlator when an operation starts.
func (e *Emitter) NotifyHistoryCreated(agentID string, entry *core.HistoryEntry) {
	if entry == nil {
		return
	}
	e.notifyHistory(HistoryUpdate{AgentID: agentID, HistoryID: entry.ID, Entry: entry, Created: true})
}

// NotifyHistoryUpdated announces an entry-level change (status, output,
// usage) to subscribers.
func (e *Emitter) NotifyHistoryUpdated(agentID string, entry *core.HistoryEntry) {
	if entry == nil {
		return
	}
	e.notifyHistory(HistoryUpdate{AgentID: agentID, HistoryID: entry.ID, Entry: entry})
}

// AgentRegistered implements core.AgentNotifier.
func (e *Emitter) AgentRegistered(agentID string) {
	e.notifyAgents(AgentChange{AgentID: agentID, Registered: true})
}

// AgentUnregistered implements core.AgentNotifier.
func (e *Emitter) AgentUnregistered(agentID string) {
	e.notifyAgents(AgentChange{AgentID: agentID})
}

// notifyHistory assigns the sequence number at the point of notification and
// invokes subscribers synchronously. A panicking subscriber is logged and
// never fails the publish path.
func (e *Emitter) notifyHistory(u HistoryUpdate) {
	u.Seq = e.seq.Add(1)

	e.mu.RLock()
	subs := make([]func(HistoryUpdate), 0, len(e.historySubs))
	for _, fn := range e.historySubs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer core.Recover(e.logger, "history subscriber")
			fn(u)
		}()
	}
}

func (e *Emitter) notifyAgents(c AgentChange) {
	c.Seq = e.seq.Add(1)

	e.mu.RLock()
	subs := make([]func(AgentChange), 0, len(e.agentSubs))
	for _, fn := range e.agentSubs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer core.Recover(e.logger, "agent subscriber")
			fn(c)
		}()
	}
}

// Shutdown drains the background queue best-effort. Events enqueued after
// Shutdown begins are dropped by the queue with a warning.
func (e *Emitter) Shutdown() {
	e.queue.Drain()
}

// visitSet is the cycle guard threaded through one propagation walk. Sibling
// branches expand concurrently, so membership updates are locked.
type visitSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newVisitSet() *visitSet {
	return &visitSet{ids: map[string]struct{}{}}
}

// Add records id and reports whether it was newly added.
func (v *visitSet) Add(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.ids[id]; ok {
		return false
	}
	v.ids[id] = struct{}{}
	return true
}
