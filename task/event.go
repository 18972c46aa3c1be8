package task

import (
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
)

// EventKind discriminates thread audit records.
type EventKind string

const (
	// EventGeneration records a model call (model plus token usage).
	EventGeneration EventKind = "generation"
	// EventDelegation records a sub-task spawn to another agent.
	EventDelegation EventKind = "delegation"
	// EventTransfer records a thread hand-off between agents.
	EventTransfer EventKind = "transfer"
	// EventThreadChange records the active thread switching.
	EventThreadChange EventKind = "threadChange"
	// EventToolUse records a tool invocation with its outcome.
	EventToolUse EventKind = "toolUse"
)

// Event is an append-only audit record on a thread. Events are never mutated
// after creation; the kind determines which payload fields are set.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	ThreadID  string    `json:"threadId"`
	Timestamp time.Time `json:"timestamp"`

	// Generation payload.
	Model string          `json:"model,omitempty"`
	Usage core.TokenUsage `json:"usage,omitzero"`

	// Delegation / transfer payload.
	TargetAgent string `json:"targetAgent,omitempty"`
	FromAgent   string `json:"fromAgent,omitempty"`
	ToAgent     string `json:"toAgent,omitempty"`

	// Thread-change payload.
	TargetThread string `json:"targetThread,omitempty"`

	// Tool-use payload.
	ToolName   string         `json:"toolName,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func newEvent(kind EventKind, threadID string) Event {
	return Event{
		ID:        util.NewID(),
		Kind:      kind,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationEvent records a model call on a thread.
func NewGenerationEvent(threadID, model string, usage core.TokenUsage) Event {
	ev := newEvent(EventGeneration, threadID)
	ev.Model = model
	ev.Usage = usage
	return ev
}

// NewDelegationEvent records a sub-task spawn targeting another agent.
func NewDelegationEvent(threadID, targetAgent, targetThread string) Event {
	ev := newEvent(EventDelegation, threadID)
	ev.TargetAgent = targetAgent
	ev.TargetThread = targetThread
	return ev
}

// NewTransferEvent records a thread hand-off between agents.
func NewTransferEvent(threadID, fromAgent, toAgent string) Event {
	ev := newEvent(EventTransfer, threadID)
	ev.FromAgent = fromAgent
	ev.ToAgent = toAgent
	return ev
}

// NewThreadChangeEvent records the active thread switching to targetThread.
func NewThreadChangeEvent(threadID, targetThread string) Event {
	ev := newEvent(EventThreadChange, threadID)
	ev.TargetThread = targetThread
	return ev
}

// NewToolUseEvent records a tool invocation and its outcome; errMsg is empty
// on success.
func NewToolUseEvent(threadID, toolName, toolCallID string, args map[string]any, result any, errMsg string) Event {
	ev := newEvent(EventToolUse, threadID)
	ev.ToolName = toolName
	ev.ToolCallID = toolCallID
	ev.Arguments = args
	ev.Result = result
	ev.Error = errMsg
	return ev
}
