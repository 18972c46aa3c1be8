// Package testutil provides small builders for tests: tool calls in
// specific lifecycle states, transcripts, and pre-wired agent teams.
package testutil

import (
	"github.com/hupe1980/taskmesh/core"
)

// NewToolCall builds a pending call without an approval gate.
func NewToolCall(name string, args map[string]any) core.ToolCall {
	return core.NewToolCall(core.ToolCallRequest{
		CallID:    "call_" + name,
		Name:      name,
		Arguments: args,
	}, core.ApprovalNotRequired)
}

// NewGatedToolCall builds a pending call awaiting approval.
func NewGatedToolCall(name string, args map[string]any) core.ToolCall {
	return core.NewToolCall(core.ToolCallRequest{
		CallID:    "call_" + name,
		Name:      name,
		Arguments: args,
	}, core.ApprovalRequired)
}

// NewToolCallMessage wraps calls into an assistant-with-tools message.
func NewToolCallMessage(calls ...core.ToolCall) *core.ToolCallMessage {
	return core.NewToolCallMessage("", calls)
}

// Transcript builds an alternating user/assistant transcript from texts,
// starting with a user turn.
func Transcript(texts ...string) []core.Message {
	messages := make([]core.Message, 0, len(texts))
	for i, text := range texts {
		if i%2 == 0 {
			messages = append(messages, core.NewUserTextMessage(text))
		} else {
			messages = append(messages, core.NewAssistantMessage(text))
		}
	}
	return messages
}
