package core

import (
	"time"

	"github.com/hupe1980/taskmesh/internal/util"
)

// ApprovalState tracks the approval gate of a tool call. String values are
// part of the persisted wire format.
type ApprovalState string

const (
	// ApprovalNotRequired marks calls on tools without a confirmation gate.
	ApprovalNotRequired ApprovalState = "noApprovalRequired"
	// ApprovalRequired marks calls awaiting an external approve/reject decision.
	ApprovalRequired ApprovalState = "requiresApproval"
	// ApprovalApproved marks calls cleared for execution.
	ApprovalApproved ApprovalState = "approved"
	// ApprovalRejected marks calls that were declined.
	ApprovalRejected ApprovalState = "rejected"
)

// ExecutionState tracks the execution lifecycle of a tool call.
type ExecutionState string

const (
	// ExecutionPending marks calls not yet executed.
	ExecutionPending ExecutionState = "pending"
	// ExecutionInProgress marks calls whose work continues elsewhere
	// (a delegated sub-task thread).
	ExecutionInProgress ExecutionState = "inProgress"
	// ExecutionCompleted marks successfully finished calls.
	ExecutionCompleted ExecutionState = "completed"
	// ExecutionError marks calls that failed; details are in Error.
	ExecutionError ExecutionState = "error"
	// ExecutionCancelled marks calls abandoned before execution.
	ExecutionCancelled ExecutionState = "cancelled"
)

// Tool call error types. Tool-level failures are reported in-band as data so
// a multi-call batch degrades gracefully instead of aborting.
const (
	ErrorTypeToolNotFound         = "toolNotFound"
	ErrorTypeToolNotExecutable    = "toolNotExecutable"
	ErrorTypeMissingArguments     = "missingArguments"
	ErrorTypeInvalidArguments     = "invalidArguments"
	ErrorTypeDelegateNotAvailable = "delegateNotAvailable"
	ErrorTypeExecution            = "executionError"
	ErrorTypeBudgetExceeded       = "budgetExceeded"
	ErrorTypeAborted              = "aborted"
)

// ToolCallRequest is the vendor-assigned portion of a tool call: the call id
// the model chose, the function name and the decoded arguments.
type ToolCallRequest struct {
	CallID    string         `json:"callId"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallError captures a per-call failure without aborting the batch.
type ToolCallError struct {
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	NumAttempts int       `json:"numAttempts"`
	LastAttempt time.Time `json:"lastAttemptAt"`
}

// ToolCall pairs one invocation request with its approval and execution
// lifecycle. Invariants: Result is non-nil only when the execution state is
// completed or inProgress (delegation parks an intermediate result); Error is
// non-nil only when the execution state is error.
type ToolCall struct {
	ID        string          `json:"id"`
	Request   ToolCallRequest `json:"request"`
	Approval  ApprovalState   `json:"approvalState"`
	Execution ExecutionState  `json:"executionState"`
	Result    any             `json:"result,omitempty"`
	Error     *ToolCallError  `json:"error,omitempty"`
}

// NewToolCall creates a tool call with a fresh engine-assigned id in the
// pending execution state.
func NewToolCall(req ToolCallRequest, approval ApprovalState) ToolCall {
	return ToolCall{
		ID:        util.NewID(),
		Request:   req,
		Approval:  approval,
		Execution: ExecutionPending,
	}
}

// Settled reports whether the call reached a terminal execution state.
// An inProgress call (delegation in flight) is not settled.
func (c *ToolCall) Settled() bool {
	switch c.Execution {
	case ExecutionCompleted, ExecutionError, ExecutionCancelled:
		return true
	}
	return false
}

// AwaitingApproval reports whether the call is gated on an external decision.
func (c *ToolCall) AwaitingApproval() bool { return c.Approval == ApprovalRequired }

// Begin transitions the call to inProgress carrying an interim result (the
// delegation case: the result references the spawned thread while the
// sub-task runs).
func (c *ToolCall) Begin(result any) {
	c.Execution = ExecutionInProgress
	c.Result = result
	c.Error = nil
}

// Complete transitions the call to completed with the given result.
func (c *ToolCall) Complete(result any) {
	c.Execution = ExecutionCompleted
	c.Result = result
	c.Error = nil
}

// Fail transitions the call to the error state, incrementing the attempt
// counter across retries of the same call.
func (c *ToolCall) Fail(errType, message string) {
	attempts := 1
	if c.Error != nil {
		attempts = c.Error.NumAttempts + 1
	}
	c.Execution = ExecutionError
	c.Result = nil
	c.Error = &ToolCallError{
		Type:        errType,
		Message:     message,
		NumAttempts: attempts,
		LastAttempt: time.Now().UTC(),
	}
}
