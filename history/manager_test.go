package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/core"
)

func TestManagerAddEntryFillsDefaults(t *testing.T) {
	mgr := NewManager("agent-a", NewInMemoryStore())

	entry := mgr.AddEntry(&core.HistoryEntry{Input: "hello"})
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "agent-a", entry.AgentID)
	assert.Equal(t, core.StatusWorking, entry.Status)
	assert.False(t, entry.StartTime.IsZero())
	assert.NotNil(t, entry.Events)
	assert.Equal(t, "hello", entry.Input)
}

func TestManagerUpdateEntry(t *testing.T) {
	mgr := NewManager("agent-a", NewInMemoryStore())
	entry := mgr.AddEntry(&core.HistoryEntry{})

	updated := mgr.UpdateEntry(entry.ID, core.EntryUpdate{
		Status:   core.StatusCompleted,
		Output:   "done",
		Usage:    &core.TokenUsage{TotalTokens: 7},
		Metadata: map[string]any{"k": "v"},
	})
	require.NotNil(t, updated)
	assert.Equal(t, core.StatusCompleted, updated.Status)
	assert.Equal(t, "done", updated.Output)
	assert.Equal(t, 7, updated.Usage.TotalTokens)
	assert.Equal(t, "v", updated.Metadata["k"])

	assert.Nil(t, mgr.UpdateEntry("missing", core.EntryUpdate{Status: core.StatusError}))
}

func TestManagerPersistTimelineEvent(t *testing.T) {
	mgr := NewManager("agent-a", NewInMemoryStore())
	entry := mgr.AddEntry(&core.HistoryEntry{})

	ev := core.NewTimelineEvent(core.EventToolWorking, core.EventTypeTool, "")
	updated := mgr.PersistTimelineEvent(entry.ID, ev)
	require.NotNil(t, updated)
	require.Len(t, updated.Events, 1)
	assert.Equal(t, ev.ID, updated.Events[0].ID)

	// Missing entry is a silent no-op.
	assert.Nil(t, mgr.PersistTimelineEvent("missing", ev))
}

func TestManagerUpdateTimelineEvent(t *testing.T) {
	mgr := NewManager("agent-a", NewInMemoryStore())
	entry := mgr.AddEntry(&core.HistoryEntry{})
	ev := core.NewTimelineEvent(core.EventToolWorking, core.EventTypeTool, "")
	mgr.PersistTimelineEvent(entry.ID, ev)

	updated := mgr.UpdateTimelineEvent(entry.ID, ev.ID, core.UpdatePayload{
		Status: core.StatusCompleted,
		Output: "result",
		Data:   map[string]any{"extra": true},
	})
	require.NotNil(t, updated)
	got := updated.Events[0]
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Equal(t, "result", got.Output)
	assert.NotEmpty(t, got.EndTime)
	assert.Equal(t, true, got.Metadata["extra"])

	assert.Nil(t, mgr.UpdateTimelineEvent(entry.ID, "missing-event", core.UpdatePayload{Status: core.StatusError}))
	assert.Nil(t, mgr.UpdateTimelineEvent("missing-entry", ev.ID, core.UpdatePayload{Status: core.StatusError}))
}

func TestManagerActiveEntryPicksMostRecent(t *testing.T) {
	mgr := NewManager("agent-a", NewInMemoryStore())

	first := mgr.AddEntry(&core.HistoryEntry{})
	second := mgr.AddEntry(&core.HistoryEntry{})

	active := mgr.ActiveEntry()
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	mgr.UpdateEntry(second.ID, core.EntryUpdate{Status: core.StatusCompleted})
	active = mgr.ActiveEntry()
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	mgr.UpdateEntry(first.ID, core.EntryUpdate{Status: core.StatusError})
	assert.Nil(t, mgr.ActiveEntry())
}

func TestManagerEntriesAreIsolatedClones(t *testing.T) {
	mgr := NewManager("agent-a", NewInMemoryStore())
	entry := mgr.AddEntry(&core.HistoryEntry{Metadata: map[string]any{"k": "v"}})

	got := mgr.Entries()
	require.Len(t, got, 1)
	got[0].Metadata["k"] = "mutated"
	got[0].Status = core.StatusError

	fresh := mgr.Entries()[0]
	assert.Equal(t, "v", fresh.Metadata["k"])
	assert.Equal(t, core.StatusWorking, fresh.Status)
	assert.Equal(t, entry.ID, fresh.ID)
}

func TestStoreSeparatesAgents(t *testing.T) {
	store := NewInMemoryStore()
	a := NewManager("agent-a", store)
	b := NewManager("agent-b", store)

	entry := a.AddEntry(&core.HistoryEntry{})
	require.NotNil(t, entry)

	assert.Len(t, a.Entries(), 1)
	assert.Empty(t, b.Entries())

	got, err := store.GetEntry("agent-b", entry.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
