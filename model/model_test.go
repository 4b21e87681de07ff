package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageConstructors(t *testing.T) {
	u := UserMessage("hi")
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, "hi", u.Content)

	a := AssistantMessage("calling", ToolCall{ID: "call-1", Name: "search"})
	assert.Equal(t, RoleAssistant, a.Role)
	require.Len(t, a.ToolCalls, 1)
	assert.Equal(t, "search", a.ToolCalls[0].Name)

	r := ToolResultMessage("call-1", "result", true)
	assert.Equal(t, RoleTool, r.Role)
	assert.Equal(t, "call-1", r.ToolCallID)
	assert.True(t, r.IsError)
}

func TestMockModelScript(t *testing.T) {
	m := NewMockModel("test")
	m.EnqueueToolCall("call-1", "search", `{"query":"weather"}`)
	m.EnqueueResponse(Response{Content: "sunny", FinishReason: "stop"})

	first, err := m.Generate(context.Background(), Request{Messages: []Message{UserMessage("weather?")}})
	require.NoError(t, err)
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, "search", first.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", first.FinishReason)

	second, err := m.Generate(context.Background(), Request{Messages: []Message{UserMessage("weather?")}})
	require.NoError(t, err)
	assert.Equal(t, "sunny", second.Content)
	require.NotNil(t, second.Usage)

	assert.Len(t, m.Requests(), 2)
}

func TestMockModelEchoFallback(t *testing.T) {
	m := NewMockModel("test")

	resp, err := m.Generate(context.Background(), Request{Messages: []Message{UserMessage("hello")}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hello", resp.Content)
}

func TestMockModelHonorsContext(t *testing.T) {
	m := NewMockModel("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, Request{})
	assert.Error(t, err)
}
