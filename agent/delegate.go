package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/model"
)

// delegateToolName is the synthetic tool through which a parent agent hands a
// task to one of its sub-agents.
const delegateToolName = "delegate_task"

// delegateDefinition exposes the agent's sub-agents as a delegation tool. The
// description enumerates the targets so the model can pick one by name.
func (a *Agent) delegateDefinition() model.ToolDefinition {
	var targets []string
	for _, sub := range a.subAgents {
		targets = append(targets, fmt.Sprintf("%s (%s)", sub.Name(), sub.Description()))
	}
	return model.ToolDefinition{
		Name:        delegateToolName,
		Description: "Delegate a task to a specialized sub-agent. Available agents: " + strings.Join(targets, "; "),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent": map[string]any{
					"type":        "string",
					"description": "Name of the sub-agent to delegate to",
				},
				"task": map[string]any{
					"type":        "string",
					"description": "Task for the sub-agent",
				},
			},
			"required": []string{"agent", "task"},
		},
	}
}

// delegate runs a sub-agent as a nested operation. The child operation is
// linked back to the delegating one, and its start and terminal transition
// are mirrored into every ancestor timeline.
func (a *Agent) delegate(ctx context.Context, oc *core.OperationContext, args map[string]any) (any, error) {
	name, _ := args["agent"].(string)
	task, _ := args["task"].(string)

	sub := a.subAgentByName(name)
	if sub == nil {
		return nil, fmt.Errorf("unknown sub-agent %q", name)
	}
	if sub.runtime == nil {
		return nil, fmt.Errorf("sub-agent %q is not registered", name)
	}

	a.runtime.Emitter.PropagateSubAgentStart(sub.ID(), task)

	result, err := sub.Run(ctx, task, func(o *RunOptions) {
		o.ParentAgentID = a.id
		o.ParentHistoryEntryID = oc.HistoryEntryID
		o.UserContext = oc.UserContextSnapshot()
	})
	if err != nil {
		a.runtime.Emitter.PropagateSubAgentEnd(sub.ID(), core.StatusError, nil, err.Error())
		return nil, fmt.Errorf("sub-agent %s failed: %w", name, err)
	}

	a.runtime.Emitter.PropagateSubAgentEnd(sub.ID(), core.StatusCompleted, result.Output, nil)
	return result.Output, nil
}

func (a *Agent) subAgentByName(name string) *Agent {
	for _, sub := range a.subAgents {
		if sub.Name() == name {
			return sub
		}
	}
	return nil
}
