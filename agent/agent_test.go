package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/history"
	"github.com/hupe1980/agenttrace/model"
	"github.com/hupe1980/agenttrace/registry"
	"github.com/hupe1980/agenttrace/timeline"
	"github.com/hupe1980/agenttrace/tool"
)

type harness struct {
	emitter  *timeline.Emitter
	reg      *registry.Registry
	store    *history.InMemoryStore
	managers map[string]*history.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	emitter := timeline.NewEmitter()
	t.Cleanup(emitter.Shutdown)
	reg := registry.New()
	emitter.SetResolver(reg)
	return &harness{
		emitter:  emitter,
		reg:      reg,
		store:    history.NewInMemoryStore(),
		managers: map[string]*history.Manager{},
	}
}

// register wires an agent (and its sub-agents) the way the module facade
// does: per-agent history manager, correlator, registry entry, parent edges.
func (h *harness) register(a *Agent) {
	mgr := history.NewManager(a.ID(), h.store)
	h.managers[a.ID()] = mgr
	a.BindRuntime(&Runtime{
		History:    mgr,
		Correlator: timeline.NewCorrelator(a.ID(), mgr, h.emitter),
		Emitter:    h.emitter,
	})
	h.reg.Register(core.RegisteredAgent{ID: a.ID(), Name: a.Name(), History: mgr})
	for _, sub := range a.SubAgents() {
		h.register(sub)
		h.reg.AddParent(sub.ID(), a.ID())
	}
}

func (h *harness) entries(a *Agent) []*core.HistoryEntry {
	return h.managers[a.ID()].Entries()
}

func echoTool() tool.Tool {
	return tool.NewFunctionTool("echo", "Echo the given text",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})
}

func TestAgentRunWithoutTools(t *testing.T) {
	h := newHarness(t)
	m := model.NewMockModel("test")
	m.EnqueueResponse(model.Response{Content: "the answer", FinishReason: "stop"})

	a := New("assistant", m)
	h.register(a)

	result, err := a.Run(context.Background(), "the question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Output)
	require.NotNil(t, result.Usage)
	assert.Positive(t, result.Usage.TotalTokens)

	entries := h.entries(a)
	require.Len(t, entries, 1)
	assert.Equal(t, core.StatusCompleted, entries[0].Status)
	assert.Equal(t, "the question", entries[0].Input)
	assert.Equal(t, "the answer", entries[0].Output)
	assert.False(t, entries[0].EndTime.IsZero())
}

func TestAgentRunWithTool(t *testing.T) {
	h := newHarness(t)
	m := model.NewMockModel("test")
	m.EnqueueToolCall("call-1", "echo", `{"text":"hello"}`)
	m.EnqueueResponse(model.Response{Content: "done: hello", FinishReason: "stop"})

	a := New("assistant", m, func(o *Options) {
		o.Tools = []tool.Tool{echoTool()}
	})
	h.register(a)

	result, err := a.Run(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "done: hello", result.Output)

	// The tool result went back to the model.
	reqs := m.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, model.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Equal(t, "hello", last.Content)
	assert.False(t, last.IsError)

	// And the timeline recorded the settled tool event.
	entries := h.entries(a)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Events, 1)
	ev := entries[0].Events[0]
	assert.Equal(t, core.EventToolWorking, ev.Name)
	assert.Equal(t, core.StatusCompleted, ev.Status)
	assert.Equal(t, "hello", ev.Output)
}

func TestAgentToolErrorIsReportedToModel(t *testing.T) {
	h := newHarness(t)
	m := model.NewMockModel("test")
	m.EnqueueToolCall("call-1", "broken", `{}`)
	m.EnqueueResponse(model.Response{Content: "recovered", FinishReason: "stop"})

	broken := tool.NewFunctionTool("broken", "Always fails", map[string]any{"type": "object"},
		func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
			return nil, errors.New("backend down")
		})
	a := New("assistant", m, func(o *Options) {
		o.Tools = []tool.Tool{broken}
	})
	h.register(a)

	result, err := a.Run(context.Background(), "try it")
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Output)

	reqs := m.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.True(t, last.IsError)
	assert.Contains(t, last.Content, "backend down")

	ev := h.entries(a)[0].Events[0]
	assert.Equal(t, core.StatusError, ev.Status)
}

func TestAgentUnknownToolCall(t *testing.T) {
	h := newHarness(t)
	m := model.NewMockModel("test")
	m.EnqueueToolCall("call-1", "ghost", `{}`)
	m.EnqueueResponse(model.Response{Content: "ok", FinishReason: "stop"})

	a := New("assistant", m)
	h.register(a)

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	last := m.Requests()[1].Messages[len(m.Requests()[1].Messages)-1]
	assert.True(t, last.IsError)
	assert.Contains(t, last.Content, "ghost")
}

func TestAgentDelegation(t *testing.T) {
	h := newHarness(t)

	subModel := model.NewMockModel("sub")
	subModel.EnqueueResponse(model.Response{Content: "42", FinishReason: "stop"})
	sub := New("researcher", subModel, func(o *Options) {
		o.Description = "Finds answers"
	})

	parentModel := model.NewMockModel("parent")
	// Leave the queue time to mirror the subagent lifecycle while the parent
	// operation is still active.
	parentModel.SetLatency(30 * time.Millisecond)
	parentModel.EnqueueToolCall("call-1", delegateToolName, `{"agent":"researcher","task":"find the answer"}`)
	parentModel.EnqueueResponse(model.Response{Content: "the answer is 42", FinishReason: "stop"})
	parent := New("coordinator", parentModel, func(o *Options) {
		o.SubAgents = []*Agent{sub}
	})
	h.register(parent)

	result, err := parent.Run(context.Background(), "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", result.Output)

	// The subagent ran as a linked nested operation.
	subEntries := h.entries(sub)
	require.Len(t, subEntries, 1)
	assert.Equal(t, core.StatusCompleted, subEntries[0].Status)
	assert.Equal(t, "find the answer", subEntries[0].Input)
	assert.Equal(t, parent.ID(), subEntries[0].ParentAgentID)
	assert.Equal(t, result.HistoryEntryID, subEntries[0].ParentHistoryEntryID)

	// The parent timeline carries the delegation tool event plus the mirrored
	// subagent lifecycle summaries.
	require.Eventually(t, func() bool {
		names := map[string]int{}
		for _, ev := range h.entries(parent)[0].Events {
			names[ev.Name]++
		}
		return names[core.EventAgentStart] == 1 && names[core.EventAgentSuccess] == 1
	}, time.Second, 5*time.Millisecond)

	for _, ev := range h.entries(parent)[0].Events {
		if ev.Name == core.EventAgentStart || ev.Name == core.EventAgentSuccess {
			assert.Equal(t, sub.ID(), ev.Metadata[core.MetadataAgentID])
		}
	}
}

func TestAgentDelegationToUnknownSubAgent(t *testing.T) {
	h := newHarness(t)

	sub := New("researcher", model.NewMockModel("sub"))
	m := model.NewMockModel("parent")
	m.EnqueueToolCall("call-1", delegateToolName, `{"agent":"nobody","task":"x"}`)
	m.EnqueueResponse(model.Response{Content: "ok", FinishReason: "stop"})
	parent := New("coordinator", m, func(o *Options) {
		o.SubAgents = []*Agent{sub}
	})
	h.register(parent)

	_, err := parent.Run(context.Background(), "go")
	require.NoError(t, err)

	last := m.Requests()[1].Messages[len(m.Requests()[1].Messages)-1]
	assert.True(t, last.IsError)
	assert.Contains(t, last.Content, "nobody")
}

func TestAgentMaxIterations(t *testing.T) {
	h := newHarness(t)
	m := model.NewMockModel("test")
	for i := 0; i < 3; i++ {
		m.EnqueueToolCall("call", "echo", `{"text":"again"}`)
	}

	a := New("assistant", m, func(o *Options) {
		o.Tools = []tool.Tool{echoTool()}
		o.MaxIterations = 3
	})
	h.register(a)

	_, err := a.Run(context.Background(), "loop forever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no final answer")

	entries := h.entries(a)
	require.Len(t, entries, 1)
	assert.Equal(t, core.StatusError, entries[0].Status)
}

func TestAgentModelFailure(t *testing.T) {
	h := newHarness(t)
	a := New("assistant", model.NewMockModel("test"))
	h.register(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Run(ctx, "too late")
	require.Error(t, err)

	entries := h.entries(a)
	require.Len(t, entries, 1)
	assert.Equal(t, core.StatusError, entries[0].Status)
}

func TestAgentRunWithoutRuntime(t *testing.T) {
	a := New("assistant", model.NewMockModel("test"))

	_, err := a.Run(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestAgentUserContextReachesTools(t *testing.T) {
	h := newHarness(t)
	m := model.NewMockModel("test")
	m.EnqueueToolCall("call-1", "whoami", `{}`)
	m.EnqueueResponse(model.Response{Content: "ok", FinishReason: "stop"})

	whoami := tool.NewFunctionTool("whoami", "Report the tenant", map[string]any{"type": "object"},
		func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
			v, _ := tc.UserValue("tenant")
			return v, nil
		})
	a := New("assistant", m, func(o *Options) {
		o.Tools = []tool.Tool{whoami}
	})
	h.register(a)

	_, err := a.Run(context.Background(), "who am I?", func(o *RunOptions) {
		o.UserContext = map[string]any{"tenant": "acme"}
	})
	require.NoError(t, err)

	ev := h.entries(a)[0].Events[0]
	assert.Equal(t, "acme", ev.Output)
}
