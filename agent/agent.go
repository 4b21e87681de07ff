package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/model"
	"github.com/hupe1980/agenttrace/timeline"
	"github.com/hupe1980/agenttrace/tool"
)

// Runtime is the service bundle an agent receives when it is registered:
// its history boundary, the correlator driving its operation lifecycle, and
// the emitter used for sub-agent lifecycle propagation.
type Runtime struct {
	History    core.HistoryAccess
	Correlator *timeline.Correlator
	Emitter    *timeline.Emitter
	Logger     logging.Logger
}

// Options configures an Agent.
type Options struct {
	// ID identifies the agent in the registry and the parent graph. A fresh
	// id is generated when empty.
	ID string

	// Description is shown to parent agents when this agent is a delegation
	// target.
	Description string

	// Instructions is the system prompt for the model.
	Instructions string

	Tools     []tool.Tool
	SubAgents []*Agent

	// MaxIterations bounds the model/tool loop of one Run.
	MaxIterations int

	Logger logging.Logger
}

// Agent is a model-backed agent. It is safe for concurrent Runs; each Run
// owns its private operation context.
type Agent struct {
	id           string
	name         string
	description  string
	instructions string
	maxIter      int

	model     model.Model
	tools     map[string]tool.Tool
	toolOrder []string
	subAgents []*Agent

	logger  logging.Logger
	runtime *Runtime
}

// New constructs an Agent around a model.
func New(name string, m model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Description:   fmt.Sprintf("Agent %s", name),
		MaxIterations: 10,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ID == "" {
		opts.ID = core.NewID()
	}

	a := &Agent{
		id:           opts.ID,
		name:         name,
		description:  opts.Description,
		instructions: opts.Instructions,
		maxIter:      opts.MaxIterations,
		model:        m,
		tools:        map[string]tool.Tool{},
		subAgents:    opts.SubAgents,
		logger:       opts.Logger,
	}
	for _, t := range opts.Tools {
		a.tools[t.Name()] = t
		a.toolOrder = append(a.toolOrder, t.Name())
	}
	return a
}

// ID returns the agent's registry id.
func (a *Agent) ID() string { return a.id }

// Name returns the agent's human-readable name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's purpose description.
func (a *Agent) Description() string { return a.description }

// SubAgents returns the delegation targets of this agent.
func (a *Agent) SubAgents() []*Agent { return a.subAgents }

// BindRuntime attaches the registered services. Called once at registration,
// before any Run.
func (a *Agent) BindRuntime(rt *Runtime) { a.runtime = rt }

// RunOptions configures one Run.
type RunOptions struct {
	// UserContext seeds the operation's user context bag.
	UserContext map[string]any

	// ParentAgentID/ParentHistoryEntryID link a delegated run to the
	// delegating operation. Set automatically for sub-agent delegation.
	ParentAgentID        string
	ParentHistoryEntryID string
}

// RunResult is the terminal outcome of one Run.
type RunResult struct {
	Output         string
	Usage          *core.TokenUsage
	OperationID    string
	HistoryEntryID string
}

// Run executes one operation: it opens the history entry and root span,
// loops the model against the agent's tools until a final answer, and closes
// the operation terminally exactly once. Cancelling ctx aborts the model and
// tool calls; timeline events already queued still finish writing.
func (a *Agent) Run(ctx context.Context, input string, optFns ...func(o *RunOptions)) (*RunResult, error) {
	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	rt := a.runtime
	if rt == nil {
		return nil, fmt.Errorf("agent %s is not registered", a.name)
	}

	ctx, oc := rt.Correlator.StartOperation(ctx, input, func(o *core.OperationContextOptions) {
		o.ParentAgentID = opts.ParentAgentID
		o.ParentHistoryEntryID = opts.ParentHistoryEntryID
		o.UserContext = opts.UserContext
	})

	messages := []model.Message{model.UserMessage(input)}
	defs := a.toolDefinitions()
	usage := &core.TokenUsage{}

	for iter := 0; iter < a.maxIter; iter++ {
		resp, err := a.model.Generate(ctx, model.Request{
			Instructions: a.instructions,
			Messages:     messages,
			Tools:        defs,
		})
		if err != nil {
			err = fmt.Errorf("model generation failed: %w", err)
			rt.Correlator.FinishOperation(oc, core.StatusError, nil, usage, err)
			return nil, err
		}
		accumulate(usage, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			rt.Correlator.FinishOperation(oc, core.StatusCompleted, resp.Content, usage, nil)
			return &RunResult{
				Output:         resp.Content,
				Usage:          usage,
				OperationID:    oc.OperationID,
				HistoryEntryID: oc.HistoryEntryID,
			}, nil
		}

		messages = append(messages, model.AssistantMessage(resp.Content, resp.ToolCalls...))
		for _, tc := range resp.ToolCalls {
			messages = append(messages, a.executeToolCall(ctx, oc, tc))
		}
	}

	err := fmt.Errorf("agent %s gave no final answer after %d iterations", a.name, a.maxIter)
	rt.Correlator.FinishOperation(oc, core.StatusError, nil, usage, err)
	return nil, err
}

// executeToolCall runs one tool call end to end: tracked event and span open,
// execution, settle. Tool failures settle the event and are reported back to
// the model as an error result rather than aborting the run.
func (a *Agent) executeToolCall(ctx context.Context, oc *core.OperationContext, tc model.ToolCall) model.Message {
	rt := a.runtime

	args := map[string]any{}
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			a.logger.Warn("agent %s: malformed arguments for tool %s: %v", a.name, tc.Name, err)
		}
	}

	rt.Correlator.ToolStart(oc, tc.ID, tc.Name, args)

	result, err := a.invokeTool(ctx, oc, tc, args)
	rt.Correlator.ToolEnd(oc, tc.ID, result, err)

	if err != nil {
		return model.ToolResultMessage(tc.ID, err.Error(), true)
	}
	return model.ToolResultMessage(tc.ID, renderResult(result), false)
}

func (a *Agent) invokeTool(ctx context.Context, oc *core.OperationContext, tc model.ToolCall, args map[string]any) (any, error) {
	if tc.Name == delegateToolName && len(a.subAgents) > 0 {
		return a.delegate(ctx, oc, args)
	}

	t, ok := a.tools[tc.Name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", tc.Name)
	}
	return t.Call(ctx, &tool.Context{
		AgentID:    a.id,
		ToolCallID: tc.ID,
		Operation:  oc,
	}, args)
}

func (a *Agent) toolDefinitions() []model.ToolDefinition {
	var defs []model.ToolDefinition
	for _, name := range a.toolOrder {
		defs = append(defs, tool.Definition(a.tools[name]))
	}
	if len(a.subAgents) > 0 {
		defs = append(defs, a.delegateDefinition())
	}
	return defs
}

func accumulate(total *core.TokenUsage, u *core.TokenUsage) {
	if u == nil {
		return
	}
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}

func renderResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return core.SerializeValue(v)
	}
}
