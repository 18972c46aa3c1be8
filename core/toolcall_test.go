package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewToolCall(t *testing.T) {
	call := NewToolCall(ToolCallRequest{CallID: "c1", Name: "lookup", Arguments: map[string]any{"q": "go"}}, ApprovalNotRequired)

	assert.NotEmpty(t, call.ID)
	assert.Equal(t, ExecutionPending, call.Execution)
	assert.False(t, call.Settled())
	assert.False(t, call.AwaitingApproval())
	assert.Nil(t, call.Result)
	assert.Nil(t, call.Error)
}

func TestToolCallComplete(t *testing.T) {
	call := NewToolCall(ToolCallRequest{Name: "lookup"}, ApprovalNotRequired)
	call.Complete(map[string]any{"answer": 42})

	assert.Equal(t, ExecutionCompleted, call.Execution)
	assert.True(t, call.Settled())
	assert.NotNil(t, call.Result)
	assert.Nil(t, call.Error)
}

func TestToolCallFailIncrementsAttempts(t *testing.T) {
	call := NewToolCall(ToolCallRequest{Name: "lookup"}, ApprovalNotRequired)

	call.Fail(ErrorTypeExecution, "boom")
	assert.Equal(t, ExecutionError, call.Execution)
	assert.Nil(t, call.Result)
	assert.Equal(t, 1, call.Error.NumAttempts)
	assert.False(t, call.Error.LastAttempt.IsZero())

	call.Fail(ErrorTypeExecution, "boom again")
	assert.Equal(t, 2, call.Error.NumAttempts)
}

func TestToolCallBegin(t *testing.T) {
	call := NewToolCall(ToolCallRequest{Name: "delegate_task"}, ApprovalNotRequired)
	call.Begin(map[string]any{"conversationId": "thread-1"})

	assert.Equal(t, ExecutionInProgress, call.Execution)
	assert.False(t, call.Settled())
	assert.NotNil(t, call.Result)
}

func TestToolCallAwaitingApproval(t *testing.T) {
	call := NewToolCall(ToolCallRequest{Name: "send"}, ApprovalRequired)
	assert.True(t, call.AwaitingApproval())

	call.Approval = ApprovalApproved
	assert.False(t, call.AwaitingApproval())
}

func TestToolCallMessagePendingCalls(t *testing.T) {
	done := NewToolCall(ToolCallRequest{Name: "a"}, ApprovalNotRequired)
	done.Complete("ok")
	open := NewToolCall(ToolCallRequest{Name: "b"}, ApprovalNotRequired)

	msg := NewToolCallMessage("", []ToolCall{done, open})
	assert.True(t, msg.PendingCalls())

	msg.ToolCalls[1].Complete("ok")
	assert.False(t, msg.PendingCalls())
}

func TestToolCallMessageClone(t *testing.T) {
	msg := NewToolCallMessage("checking", []ToolCall{NewToolCall(ToolCallRequest{Name: "a"}, ApprovalNotRequired)})
	clone := msg.Clone()

	clone.ToolCalls[0].Complete("done")
	assert.Equal(t, ExecutionPending, msg.ToolCalls[0].Execution)
	assert.Equal(t, msg.ID, clone.ID)
}
