package agenttrace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/agent"
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/evaluation"
	"github.com/hupe1980/agenttrace/model"
	"github.com/hupe1980/agenttrace/timeline"
)

func TestEndToEndDelegation(t *testing.T) {
	at := New()
	t.Cleanup(at.Shutdown)

	subModel := model.NewMockModel("sub")
	subModel.EnqueueResponse(model.Response{Content: "Paris", FinishReason: "stop"})
	sub := agent.New("geographer", subModel, func(o *agent.Options) {
		o.Description = "Answers geography questions"
	})

	parentModel := model.NewMockModel("parent")
	parentModel.SetLatency(30 * time.Millisecond)
	parentModel.EnqueueToolCall("call-1", "delegate_task", `{"agent":"geographer","task":"capital of France?"}`)
	parentModel.EnqueueResponse(model.Response{Content: "The capital is Paris.", FinishReason: "stop"})
	parent := agent.New("coordinator", parentModel, func(o *agent.Options) {
		o.SubAgents = []*agent.Agent{sub}
	})

	at.RegisterAgent(parent)

	var mu sync.Mutex
	var updates int
	unsubscribe := at.Emitter().SubscribeHistory(func(timeline.HistoryUpdate) {
		mu.Lock()
		defer mu.Unlock()
		updates++
	})
	defer unsubscribe()

	result, err := at.Run(context.Background(), parent, "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "The capital is Paris.", result.Output)

	// Both operations are on record and linked.
	parentEntries := at.History(parent.ID())
	require.Len(t, parentEntries, 1)
	assert.Equal(t, core.StatusCompleted, parentEntries[0].Status)

	subEntries := at.History(sub.ID())
	require.Len(t, subEntries, 1)
	assert.Equal(t, parent.ID(), subEntries[0].ParentAgentID)
	assert.Equal(t, parentEntries[0].ID, subEntries[0].ParentHistoryEntryID)

	// The parent timeline mirrors the subagent lifecycle.
	require.Eventually(t, func() bool {
		names := map[string]int{}
		for _, ev := range at.History(parent.ID())[0].Events {
			names[ev.Name]++
		}
		return names[core.EventAgentStart] == 1 && names[core.EventAgentSuccess] == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, updates)
}

type staticScorer struct{}

func (staticScorer) Name() string { return "static" }

func (staticScorer) Evaluate(ctx context.Context, sample evaluation.Sample) (evaluation.Score, error) {
	return evaluation.Score{Name: "static", Value: 1}, nil
}

func TestRunDispatchesEvaluation(t *testing.T) {
	var mu sync.Mutex
	var samples []evaluation.Sample

	at := New(func(o *Options) {
		o.Scorers = []evaluation.Scorer{staticScorer{}}
		o.ScoreSink = func(sample evaluation.Sample, score evaluation.Score) {
			mu.Lock()
			defer mu.Unlock()
			samples = append(samples, sample)
		}
	})
	t.Cleanup(at.Shutdown)

	m := model.NewMockModel("test")
	m.EnqueueResponse(model.Response{Content: "ok", FinishReason: "stop"})
	a := agent.New("assistant", m)
	at.RegisterAgent(a)

	result, err := at.Run(context.Background(), a, "ping")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(samples) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, a.ID(), samples[0].AgentID)
	assert.Equal(t, result.OperationID, samples[0].OperationID)
	assert.Equal(t, "ok", samples[0].Output)
}

func TestInstancesAreIsolated(t *testing.T) {
	first := New()
	t.Cleanup(first.Shutdown)
	second := New()
	t.Cleanup(second.Shutdown)

	m := model.NewMockModel("test")
	m.EnqueueResponse(model.Response{Content: "ok", FinishReason: "stop"})
	a := agent.New("assistant", m)
	first.RegisterAgent(a)

	_, err := first.Run(context.Background(), a, "ping")
	require.NoError(t, err)

	assert.Len(t, first.History(a.ID()), 1)
	assert.Nil(t, second.History(a.ID()))
}

func TestUnregisterAgent(t *testing.T) {
	at := New()
	t.Cleanup(at.Shutdown)

	a := agent.New("assistant", model.NewMockModel("test"))
	at.RegisterAgent(a)
	require.NotNil(t, at.History(a.ID()))

	at.UnregisterAgent(a.ID())
	assert.Nil(t, at.History(a.ID()))
}
