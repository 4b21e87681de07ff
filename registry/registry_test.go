package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/core"
)

type recordingNotifier struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
}

func (n *recordingNotifier) AgentRegistered(agentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered = append(n.registered, agentID)
}

func (n *recordingNotifier) AgentUnregistered(agentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unregistered = append(n.unregistered, agentID)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(core.RegisteredAgent{ID: "a", Name: "assistant"})

	agent, ok := r.GetAgent("a")
	require.True(t, ok)
	assert.Equal(t, "assistant", agent.Name)

	_, ok = r.GetAgent("ghost")
	assert.False(t, ok)
}

func TestRegistryGetAllAgentsKeepsOrder(t *testing.T) {
	r := New()
	r.Register(core.RegisteredAgent{ID: "a"})
	r.Register(core.RegisteredAgent{ID: "b"})
	r.Register(core.RegisteredAgent{ID: "c"})
	r.Register(core.RegisteredAgent{ID: "b", Name: "replaced"})

	all := r.GetAllAgents()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "replaced", all[1].Name)
	assert.Equal(t, "c", all[2].ID)
}

func TestRegistryParentEdges(t *testing.T) {
	r := New()
	r.AddParent("child", "parent")
	r.AddParent("child", "parent") // duplicate collapses
	r.AddParent("child", "other")

	assert.Equal(t, []string{"parent", "other"}, r.GetParentAgentIDs("child"))
	assert.Empty(t, r.GetParentAgentIDs("parent"))

	r.RemoveParent("child", "parent")
	assert.Equal(t, []string{"other"}, r.GetParentAgentIDs("child"))
}

func TestRegistryPermitsCycles(t *testing.T) {
	r := New()
	r.AddParent("a", "b")
	r.AddParent("b", "a")

	assert.Equal(t, []string{"b"}, r.GetParentAgentIDs("a"))
	assert.Equal(t, []string{"a"}, r.GetParentAgentIDs("b"))
}

func TestRegistryRejectsDegenerateEdges(t *testing.T) {
	r := New()
	r.AddParent("a", "a")
	r.AddParent("", "b")
	r.AddParent("a", "")

	assert.Empty(t, r.GetParentAgentIDs("a"))
	assert.Empty(t, r.GetParentAgentIDs(""))
}

func TestRegistryUnregisterRemovesEdges(t *testing.T) {
	r := New()
	r.Register(core.RegisteredAgent{ID: "a"})
	r.Register(core.RegisteredAgent{ID: "b"})
	r.AddParent("a", "b")
	r.AddParent("b", "a")

	r.Unregister("b")

	_, ok := r.GetAgent("b")
	assert.False(t, ok)
	assert.Empty(t, r.GetParentAgentIDs("a"))
	assert.Empty(t, r.GetParentAgentIDs("b"))
	assert.Len(t, r.GetAllAgents(), 1)
}

func TestRegistryNotifier(t *testing.T) {
	n := &recordingNotifier{}
	r := New(func(o *Options) {
		o.Notifier = n
	})

	r.Register(core.RegisteredAgent{ID: "a"})
	r.Unregister("a")
	r.Unregister("ghost") // unknown id, no signal

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []string{"a"}, n.registered)
	assert.Equal(t, []string{"a"}, n.unregistered)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(core.RegisteredAgent{ID: "shared"})
			r.AddParent("shared", "parent")
			r.GetParentAgentIDs("shared")
			r.GetAllAgents()
		}()
	}
	wg.Wait()

	_, ok := r.GetAgent("shared")
	assert.True(t, ok)
	assert.Equal(t, []string{"parent"}, r.GetParentAgentIDs("shared"))
}
