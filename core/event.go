package core

import (
	"encoding/json"
	"time"
)

// EventType categorizes a timeline event by the subsystem that produced it.
type EventType string

const (
	// EventTypeAgent marks agent lifecycle transitions (start, success, error).
	EventTypeAgent EventType = "agent"
	// EventTypeTool marks tool invocation transitions.
	EventTypeTool EventType = "tool"
	// EventTypeMemory marks memory read/write transitions.
	EventTypeMemory EventType = "memory"
	// EventTypeRetriever marks retriever lookups.
	EventTypeRetriever EventType = "retriever"
)

// Timeline event status values. Statuses are plain strings so producers can
// introduce custom ones; these cover the transitions the framework emits.
const (
	StatusWorking   = "working"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Well-known timeline event names emitted by the framework.
const (
	EventToolWorking  = "tool_working"
	EventAgentStart   = "agent:start"
	EventAgentSuccess = "agent:success"
	EventAgentError   = "agent:error"
)

// MetadataAgentID is the metadata key carrying the id of the agent that
// originally produced an event. Propagated copies of a subagent's event are
// tagged with this key so ancestor timelines can attribute them.
const MetadataAgentID = "agent_id"

// TimelineEvent is a persisted record of one state transition (tool started,
// agent finished, memory accessed, ...) shown on an agent's timeline. After
// being handed to the emitter it must be treated as immutable; the emitter
// clones it before enqueueing so later caller-side mutation cannot corrupt an
// already queued task.
type TimelineEvent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      EventType      `json:"type"`
	Status    string         `json:"status"`
	StartTime string         `json:"startTime"` // RFC 3339 UTC
	EndTime   string         `json:"endTime,omitempty"`
	Input     any            `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Error     any            `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
}

// NewTimelineEvent creates a timeline event with a fresh id and start
// timestamp, authored under the given trace id.
func NewTimelineEvent(name string, typ EventType, traceID string) TimelineEvent {
	return TimelineEvent{
		ID:        NewID(),
		Name:      name,
		Type:      typ,
		Status:    StatusWorking,
		StartTime: Timestamp(),
		Metadata:  map[string]any{},
		TraceID:   traceID,
	}
}

// Timestamp returns the current time formatted the way timeline events carry it.
func Timestamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Clone returns a deep copy of the event via a JSON round-trip. Values that
// cannot be serialized (channels, funcs, cycles) fall back to a shallow copy
// whose payload fields are replaced with a serialization-error sentinel, so a
// bad payload never fails the publish path.
func (e TimelineEvent) Clone() TimelineEvent {
	data, err := json.Marshal(e)
	if err != nil {
		return e.shallowCloneWithSentinel()
	}
	var c TimelineEvent
	if err := json.Unmarshal(data, &c); err != nil {
		return e.shallowCloneWithSentinel()
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return c
}

func (e TimelineEvent) shallowCloneWithSentinel() TimelineEvent {
	c := e
	c.Input = SerializationErrorSentinel()
	c.Output = nil
	c.Error = nil
	c.Metadata = map[string]any{}
	for k, v := range e.Metadata {
		if _, err := json.Marshal(v); err != nil {
			c.Metadata[k] = SerializationErrorSentinel()
			continue
		}
		c.Metadata[k] = v
	}
	return c
}

// SerializationErrorSentinel is stored in place of a value that could not be
// serialized during cloning or auditing.
func SerializationErrorSentinel() map[string]any {
	return map[string]any{"serialization_error": true}
}

// SerializeValue renders v as a JSON string for audit trails. Unserializable
// values yield the sentinel representation instead of an error.
func SerializeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(SerializationErrorSentinel())
	}
	return string(data)
}
