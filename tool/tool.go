// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities with schema-validated arguments and uniform
// error handling.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/internal/util"
	"github.com/hupe1980/agenttrace/model"
)

// Tool is a callable capability an agent can expose to its model.
//
// Implementations should provide descriptive names and schemas, handle errors
// gracefully, and be safe for concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case
	// recommended).
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. Arguments were parsed from the model's JSON and
	// validated against the schema before this is invoked.
	Call(ctx context.Context, tc *Context, args map[string]any) (any, error)
}

// Context carries the invocation-scoped state a tool may need: the calling
// agent, the tool-call id correlating the model request with this execution,
// and the operation's user context bag.
type Context struct {
	AgentID    string
	ToolCallID string
	Operation  *core.OperationContext
}

// UserValue reads a key from the operation's user context bag.
func (tc *Context) UserValue(key string) (any, bool) {
	if tc == nil || tc.Operation == nil {
		return nil, false
	}
	return tc.Operation.UserValue(key)
}

// SetUserValue stages a key/value pair on the operation's user context bag,
// visible to later tools of the same operation.
func (tc *Context) SetUserValue(key string, value any) {
	if tc == nil || tc.Operation == nil {
		return
	}
	tc.Operation.SetUserValue(key, value)
}

// ValidationError is re-exported for callers matching on validation failures.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// ToolError wraps failures during tool execution with a stable code.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Definition converts a tool into the provider-neutral definition handed to
// models.
func Definition(t Tool) model.ToolDefinition {
	return model.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}
