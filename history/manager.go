package history

import (
	"sync"
	"time"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger logging.Logger
}

// Manager scopes a Store to a single agent and implements
// core.HistoryAccess. Store errors are logged and treated as a missing entry:
// the timeline pipeline must never fail because a history write did.
type Manager struct {
	agentID string
	store   Store
	logger  logging.Logger

	// Serializes read-modify-write cycles against the store so concurrent
	// timeline writes to the same entry cannot lose events.
	mu sync.Mutex
}

// NewManager constructs a Manager for one agent.
func NewManager(agentID string, store Store, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{agentID: agentID, store: store, logger: opts.Logger}
}

// AgentID returns the id of the agent this manager belongs to.
func (m *Manager) AgentID() string { return m.agentID }

// AddEntry persists a new entry, assigning id, agent id, start time and a
// working status when absent, and returns the stored clone.
func (m *Manager) AddEntry(entry *core.HistoryEntry) *core.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry.Clone()
	if e == nil {
		e = &core.HistoryEntry{}
	}
	if e.ID == "" {
		e.ID = core.NewID()
	}
	if e.AgentID == "" {
		e.AgentID = m.agentID
	}
	if e.Status == "" {
		e.Status = core.StatusWorking
	}
	if e.StartTime.IsZero() {
		e.StartTime = time.Now().UTC()
	}
	if e.Events == nil {
		e.Events = []core.TimelineEvent{}
	}
	if err := m.store.SaveEntry(m.agentID, e); err != nil {
		m.logger.Error("history: failed to save entry %s for agent %s: %v", e.ID, m.agentID, err)
		return nil
	}
	return e
}

// UpdateEntry applies a partial update and returns the refreshed entry, or
// nil when the entry no longer exists.
func (m *Manager) UpdateEntry(historyID string, update core.EntryUpdate) *core.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.load(historyID)
	if e == nil {
		return nil
	}
	if update.Status != "" {
		e.Status = update.Status
	}
	if update.Output != nil {
		e.Output = update.Output
	}
	if update.Usage != nil {
		e.Usage = update.Usage
	}
	if len(update.Metadata) > 0 {
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		for k, v := range update.Metadata {
			e.Metadata[k] = v
		}
	}
	if !update.EndTime.IsZero() {
		e.EndTime = update.EndTime
	}
	return m.save(e)
}

// PersistTimelineEvent appends an event to the entry's timeline. A missing
// entry is a silent no-op returning nil.
func (m *Manager) PersistTimelineEvent(historyID string, event core.TimelineEvent) *core.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.load(historyID)
	if e == nil {
		return nil
	}
	e.Events = append(e.Events, event)
	return m.save(e)
}

// UpdateTimelineEvent patches a previously persisted event in place: status,
// end time, output/error, and merged metadata. Returns nil when the entry or
// the event is gone.
func (m *Manager) UpdateTimelineEvent(historyID, eventID string, payload core.UpdatePayload) *core.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.load(historyID)
	if e == nil {
		return nil
	}
	idx := -1
	for i := range e.Events {
		if e.Events[i].ID == eventID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	ev := &e.Events[idx]
	if payload.Status != "" {
		ev.Status = payload.Status
		if payload.Status == core.StatusCompleted || payload.Status == core.StatusError {
			ev.EndTime = core.Timestamp()
		}
	}
	if payload.Output != nil {
		ev.Output = payload.Output
	}
	if payload.Error != nil {
		ev.Error = payload.Error
	}
	if len(payload.Data) > 0 {
		if ev.Metadata == nil {
			ev.Metadata = map[string]any{}
		}
		for k, v := range payload.Data {
			ev.Metadata[k] = v
		}
	}
	return m.save(e)
}

// Entries returns clones of all entries for the agent, oldest first.
func (m *Manager) Entries() []*core.HistoryEntry {
	entries, err := m.store.ListEntries(m.agentID)
	if err != nil {
		m.logger.Error("history: failed to list entries for agent %s: %v", m.agentID, err)
		return nil
	}
	return entries
}

// ActiveEntry returns the most recent non-terminal entry, or nil when every
// entry has settled. Propagation into this agent targets the returned entry.
func (m *Manager) ActiveEntry() *core.HistoryEntry {
	entries := m.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsActive() {
			return entries[i]
		}
	}
	return nil
}

func (m *Manager) load(historyID string) *core.HistoryEntry {
	e, err := m.store.GetEntry(m.agentID, historyID)
	if err != nil {
		m.logger.Error("history: failed to load entry %s for agent %s: %v", historyID, m.agentID, err)
		return nil
	}
	return e
}

func (m *Manager) save(e *core.HistoryEntry) *core.HistoryEntry {
	if err := m.store.SaveEntry(m.agentID, e); err != nil {
		m.logger.Error("history: failed to save entry %s for agent %s: %v", e.ID, m.agentID, err)
		return nil
	}
	return e
}
