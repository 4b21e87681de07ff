package core

import "time"

// TokenUsage captures token usage statistics accumulated over one operation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HistoryEntry is the durable record of one agent operation: its input,
// terminal output, token usage, and the ordered timeline of events that
// occurred while it ran. Entries are owned by a per-agent history manager;
// callers receive defensive clones.
type HistoryEntry struct {
	ID                   string          `json:"id"`
	AgentID              string          `json:"agent_id"`
	Status               string          `json:"status"`
	Input                any             `json:"input,omitempty"`
	Output               any             `json:"output,omitempty"`
	Usage                *TokenUsage     `json:"usage,omitempty"`
	Events               []TimelineEvent `json:"events"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
	ParentAgentID        string          `json:"parent_agent_id,omitempty"`
	ParentHistoryEntryID string          `json:"parent_history_entry_id,omitempty"`
	StartTime            time.Time       `json:"start_time"`
	EndTime              time.Time       `json:"end_time,omitzero"`
}

// IsActive reports whether the entry has not yet reached a terminal status.
// Propagation targets ancestors through their most recent active entry.
func (h *HistoryEntry) IsActive() bool {
	return h.Status != StatusCompleted && h.Status != StatusError
}

// Clone returns a deep-enough copy for handing across goroutine boundaries:
// the events slice and metadata map are copied, payload values are shared
// (they are treated as immutable once recorded).
func (h *HistoryEntry) Clone() *HistoryEntry {
	if h == nil {
		return nil
	}
	c := *h
	c.Events = make([]TimelineEvent, len(h.Events))
	copy(c.Events, h.Events)
	if h.Metadata != nil {
		c.Metadata = make(map[string]any, len(h.Metadata))
		for k, v := range h.Metadata {
			c.Metadata[k] = v
		}
	}
	if h.Usage != nil {
		u := *h.Usage
		c.Usage = &u
	}
	return &c
}

// EntryUpdate is a partial update applied to a history entry. Zero-valued
// fields are left unchanged; Metadata is merged key-wise.
type EntryUpdate struct {
	Status   string
	Output   any
	Usage    *TokenUsage
	Metadata map[string]any
	EndTime  time.Time
}

// UpdatePayload is the partial update accepted by an EventUpdater: a new
// status and/or additional payload for the tracked timeline event.
type UpdatePayload struct {
	Status string         `json:"status,omitempty"`
	Output any            `json:"output,omitempty"`
	Error  any            `json:"error,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// HistoryAccess is the boundary to one agent's durable history. A missing
// entry is reported by returning nil, never by an error: timeline writes are
// low-criticality and a vanished entry is a silent no-op.
type HistoryAccess interface {
	// AddEntry persists a new entry, assigning id/start time when absent,
	// and returns the stored clone.
	AddEntry(entry *HistoryEntry) *HistoryEntry

	// UpdateEntry applies a partial update and returns the refreshed entry,
	// or nil if the entry no longer exists.
	UpdateEntry(historyID string, update EntryUpdate) *HistoryEntry

	// PersistTimelineEvent appends an event to an entry's timeline and
	// returns the refreshed entry, or nil if the entry no longer exists.
	PersistTimelineEvent(historyID string, event TimelineEvent) *HistoryEntry

	// UpdateTimelineEvent patches a previously persisted event in place and
	// returns the refreshed entry, or nil if entry or event are gone.
	UpdateTimelineEvent(historyID, eventID string, payload UpdatePayload) *HistoryEntry

	// Entries returns clones of all entries, most recent last.
	Entries() []*HistoryEntry

	// ActiveEntry returns a clone of the most recent non-terminal entry, or
	// nil when every entry has settled.
	ActiveEntry() *HistoryEntry
}

// EventUpdater is a capability bound to one tracked timeline event, handed out
// when the event is first recorded and consumed at its terminal transition.
// It is an explicit struct rather than a closure so the binding triple stays
// inspectable.
type EventUpdater struct {
	AgentID   string
	HistoryID string
	EventName string
	EventID   string
	History   HistoryAccess
}

// Update applies a partial update to the tracked event. The second return is
// false when the underlying history entry (or the updater itself) is gone;
// calling a stale updater is always safe.
func (u *EventUpdater) Update(payload UpdatePayload) (*HistoryEntry, bool) {
	if u == nil || u.History == nil {
		return nil, false
	}
	entry := u.History.UpdateTimelineEvent(u.HistoryID, u.EventID, payload)
	if entry == nil {
		return nil, false
	}
	return entry, true
}
