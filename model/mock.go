package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenttrace/core"
)

// MockModel is a lightweight in-memory Model for tests and examples. Scripted
// responses are consumed in FIFO order; once the script is exhausted it echoes
// the last message. Safe for concurrent use.
type MockModel struct {
	info Info

	mu       sync.Mutex
	latency  time.Duration
	script   []Response
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
	}
}

// EnqueueResponse appends a scripted completion.
func (m *MockModel) EnqueueResponse(resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, resp)
}

// EnqueueToolCall appends a scripted completion that requests one tool call.
func (m *MockModel) EnqueueToolCall(callID, name, arguments string) {
	m.EnqueueResponse(Response{
		ToolCalls:    []ToolCall{{ID: callID, Name: name, Arguments: []byte(arguments)}},
		FinishReason: "tool_calls",
	})
}

// SetLatency makes every Generate sleep first, simulating provider delay.
func (m *MockModel) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Requests returns the requests seen so far, for assertions.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	latency := m.latency
	m.mu.Unlock()
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		if resp.Usage == nil {
			resp.Usage = &core.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}
		}
		return &resp, nil
	}

	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return &Response{
		Content:      fmt.Sprintf("Mock response to: %s", last),
		FinishReason: "stop",
		Usage:        &core.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
