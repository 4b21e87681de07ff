package history

import (
	"sync"

	"github.com/hupe1980/agenttrace/core"
)

// Store is the backing persistence for history entries across all agents.
// Implementations must be safe for concurrent use. A missing entry is
// reported as (nil, nil), not as an error.
type Store interface {
	SaveEntry(agentID string, entry *core.HistoryEntry) error
	GetEntry(agentID, historyID string) (*core.HistoryEntry, error)
	ListEntries(agentID string) ([]*core.HistoryEntry, error)
}

// InMemoryStore is a volatile Store keeping entries in process-local maps.
// Returned entries are clones so callers can never mutate internal state.
// Best suited for tests, examples and ephemeral deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]*core.HistoryEntry
	order   map[string][]string
}

// NewInMemoryStore constructs an empty in-memory history store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: map[string]map[string]*core.HistoryEntry{},
		order:   map[string][]string{},
	}
}

// SaveEntry inserts or replaces an entry for the agent.
func (s *InMemoryStore) SaveEntry(agentID string, entry *core.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.entries[agentID]
	if !ok {
		byID = map[string]*core.HistoryEntry{}
		s.entries[agentID] = byID
	}
	if _, exists := byID[entry.ID]; !exists {
		s.order[agentID] = append(s.order[agentID], entry.ID)
	}
	byID[entry.ID] = entry.Clone()
	return nil
}

// GetEntry returns a clone of the entry, or (nil, nil) when absent.
func (s *InMemoryStore) GetEntry(agentID, historyID string) (*core.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byID, ok := s.entries[agentID]; ok {
		return byID[historyID].Clone(), nil
	}
	return nil, nil
}

// ListEntries returns clones of the agent's entries in insertion order.
func (s *InMemoryStore) ListEntries(agentID string) ([]*core.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[agentID]
	byID := s.entries[agentID]
	out := make([]*core.HistoryEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}
