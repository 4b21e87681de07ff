package core

import (
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// OperationContext carries the correlation state for one agent invocation (or
// one sub-agent delegation): the operation id, the durable history entry it
// writes to, the in-flight event updaters and tool spans keyed by tool-call
// id, parent linkage for nested agents, and a free-form user context bag.
//
// An OperationContext is owned by the invocation that created it. It flips to
// inactive exactly once, at the terminal transition; afterwards every further
// mutation attempt is refused so a late tool callback cannot resurrect a
// finished history entry. Propagation code spawned from the invocation may
// read it concurrently, hence the internal locking.
type OperationContext struct {
	OperationID          string
	HistoryEntryID       string
	ParentAgentID        string
	ParentHistoryEntryID string

	// RootSpan is the tracer span covering the whole operation; nil when no
	// tracer is configured.
	RootSpan trace.Span

	mu            sync.Mutex
	eventUpdaters map[string]*EventUpdater
	toolSpans     map[string]trace.Span
	userContext   map[string]any
	active        bool
}

// OperationContextOptions configures optional fields of a new OperationContext.
type OperationContextOptions struct {
	ParentAgentID        string
	ParentHistoryEntryID string
	UserContext          map[string]any
}

// NewOperationContext creates an active context bound to a history entry.
func NewOperationContext(historyEntryID string, optFns ...func(o *OperationContextOptions)) *OperationContext {
	opts := OperationContextOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	oc := &OperationContext{
		OperationID:          NewID(),
		HistoryEntryID:       historyEntryID,
		ParentAgentID:        opts.ParentAgentID,
		ParentHistoryEntryID: opts.ParentHistoryEntryID,
		eventUpdaters:        map[string]*EventUpdater{},
		toolSpans:            map[string]trace.Span{},
		userContext:          map[string]any{},
		active:               true,
	}
	for k, v := range opts.UserContext {
		oc.userContext[k] = v
	}
	return oc
}

// IsActive reports whether the operation has not yet reached its terminal
// transition.
func (oc *OperationContext) IsActive() bool {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.active
}

// Deactivate flips the context to inactive. It returns true only for the call
// that performed the flip, so terminal cleanup runs exactly once.
func (oc *OperationContext) Deactivate() bool {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if !oc.active {
		return false
	}
	oc.active = false
	return true
}

// PutUpdater stores the event updater for a tool call. It is a no-op on an
// inactive context.
func (oc *OperationContext) PutUpdater(toolCallID string, u *EventUpdater) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if !oc.active {
		return
	}
	oc.eventUpdaters[toolCallID] = u
}

// TakeUpdater removes and returns the updater for a tool call. The boolean is
// false when no updater was registered (late or duplicate settle).
func (oc *OperationContext) TakeUpdater(toolCallID string) (*EventUpdater, bool) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	u, ok := oc.eventUpdaters[toolCallID]
	if ok {
		delete(oc.eventUpdaters, toolCallID)
	}
	return u, ok
}

// ClearUpdaters drops every remaining updater and reports how many were still
// pending. Used as defensive cleanup at the terminal transition for tools
// whose settle event never arrived.
func (oc *OperationContext) ClearUpdaters() int {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	n := len(oc.eventUpdaters)
	oc.eventUpdaters = map[string]*EventUpdater{}
	return n
}

// PutToolSpan stores the open span for a tool call.
func (oc *OperationContext) PutToolSpan(toolCallID string, span trace.Span) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if !oc.active {
		return
	}
	oc.toolSpans[toolCallID] = span
}

// TakeToolSpan removes and returns the span for a tool call.
func (oc *OperationContext) TakeToolSpan(toolCallID string) (trace.Span, bool) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	span, ok := oc.toolSpans[toolCallID]
	if ok {
		delete(oc.toolSpans, toolCallID)
	}
	return span, ok
}

// PendingToolSpans drains and returns all still-open tool spans so they can be
// ended during terminal cleanup.
func (oc *OperationContext) PendingToolSpans() []trace.Span {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	spans := make([]trace.Span, 0, len(oc.toolSpans))
	for _, s := range oc.toolSpans {
		spans = append(spans, s)
	}
	oc.toolSpans = map[string]trace.Span{}
	return spans
}

// SetUserValue stages an arbitrary key/value pair on the operation's user
// context bag.
func (oc *OperationContext) SetUserValue(key string, value any) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.userContext[key] = value
}

// UserValue returns a value from the user context bag.
func (oc *OperationContext) UserValue(key string) (any, bool) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	v, ok := oc.userContext[key]
	return v, ok
}

// UserContextSnapshot returns a copy of the user context bag for auditing.
func (oc *OperationContext) UserContextSnapshot() map[string]any {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	snap := make(map[string]any, len(oc.userContext))
	for k, v := range oc.userContext {
		snap[k] = v
	}
	return snap
}
