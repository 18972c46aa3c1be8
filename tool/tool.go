// Package tool implements the tool registry and invocation engine: named
// capabilities with schema validated arguments, an approval gate, per-call
// error capture, batch classification and budgeted processing. Agents invoke
// tools through a Kit; delegation and transfer are modelled as built-in
// marker tools whose semantics live in the team package.
package tool

import (
	"context"

	"github.com/hupe1980/taskmesh/internal/util"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/provider"
)

// Kind distinguishes the tool variants.
type Kind string

const (
	// KindFunction is an executable tool backed by an Executor.
	KindFunction Kind = "function"
	// KindDefinition is a schema-only declaration without an executor.
	// Invoking it is an error; it exists so callers can surface a tool to
	// the model while executing it elsewhere.
	KindDefinition Kind = "functionDefinition"
	// KindDelegate marks the built-in sub-task delegation tool.
	KindDelegate Kind = "subTask"
	// KindTransfer marks the built-in agent transfer tool.
	KindTransfer Kind = "transfer"
)

// Reserved built-in tool names. They are registered in every Kit and cannot
// be unregistered.
const (
	// DelegateToolName spawns a sub-task thread handled by another agent.
	DelegateToolName = "delegate_task"
	// TransferToolName hands the current thread to another agent.
	TransferToolName = "transfer_to_agent"
)

// Invocation carries per-call context into executors: the task/thread/agent
// the call runs under, a user context map, a secure context for secrets
// (never serialized or exposed to models), and a logger.
type Invocation struct {
	TaskID        string
	ThreadID      string
	Agent         string
	Context       map[string]any
	SecureContext map[string]any
	Logger        logging.Logger
}

// NewInvocation returns an Invocation with a NoOp logger and empty contexts.
func NewInvocation() *Invocation {
	return &Invocation{
		Context:       map[string]any{},
		SecureContext: map[string]any{},
		Logger:        logging.NoOpLogger{},
	}
}

// Executor is the user-supplied implementation of a function tool. Errors
// returned (or panics raised) are captured into the tool call's error state
// rather than propagated.
type Executor func(ctx context.Context, args map[string]any, inv *Invocation) (any, error)

// Tool is a named, described capability exposed to models.
type Tool struct {
	// Name is the unique identifier within a Kit (snake_case recommended).
	Name string
	// Description is shown to models to guide tool selection.
	Description string
	// Parameters is a minimal JSON Schema for the accepted arguments.
	Parameters map[string]any
	// Kind selects the variant semantics.
	Kind Kind
	// Execute backs KindFunction tools; nil otherwise.
	Execute Executor
	// RequiresConfirmation gates calls behind an external approval.
	RequiresConfirmation bool
}

// NewFunctionTool constructs an executable tool from an explicit schema.
func NewFunctionTool(name, description string, parameters map[string]any, fn Executor) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Kind:        KindFunction,
		Execute:     fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct via
// reflection and wraps fn as a function tool.
func NewFunctionToolFromStruct(name, description string, structType any, fn Executor) *Tool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// NewToolDefinition constructs a schema-only tool without an executor.
func NewToolDefinition(name, description string, parameters map[string]any) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Kind:        KindDefinition,
	}
}

// Definition converts the tool into the provider-facing declaration.
func (t *Tool) Definition() provider.ToolDefinition {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return provider.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: params}
}

func newDelegateTool() *Tool {
	return &Tool{
		Name:        DelegateToolName,
		Description: "Delegate a task to another agent. The agent works on the task in a separate conversation and reports its result back to you.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agentName":       map[string]any{"type": "string", "description": "Name of the agent to delegate to"},
				"taskDescription": map[string]any{"type": "string", "description": "Complete, self-contained description of the task"},
			},
			"required": []string{"agentName", "taskDescription"},
		},
		Kind: KindDelegate,
	}
}

func newTransferTool() *Tool {
	return &Tool{
		Name:        TransferToolName,
		Description: "Transfer this conversation to another agent that is better suited to continue it. Control does not return to you.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agentName": map[string]any{"type": "string", "description": "Name of the agent to transfer to"},
			},
			"required": []string{"agentName"},
		},
		Kind: KindTransfer,
	}
}

// rejectionResult is parked as the result of rejected calls so the model
// sees an explicit outcome instead of a missing one.
func rejectionResult() map[string]any {
	return map[string]any{"rejected": true, "message": "The tool call was rejected by the user."}
}

// errString formats an executor failure for capture.
func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
