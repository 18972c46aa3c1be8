package task

import (
	"fmt"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
)

// MainThreadID is the reserved identifier of the thread every task starts
// with.
const MainThreadID = "main"

// Thread is one agent-owned conversation branch within a task. Threads are
// created when the task starts (the main thread) or when a delegation
// spawns a child; they are never deleted during the task's life.
type Thread struct {
	// ID is unique within the task; MainThreadID for the root thread.
	ID string
	// AgentID names the agent currently responsible for this thread. It
	// changes only through Reassign (transfer).
	AgentID string
	// Messages is the ordered transcript; never empty.
	Messages []core.Message
	// ParentThreadID / ParentToolCallID are set when this thread was
	// spawned by a delegation tool call.
	ParentThreadID   string
	ParentToolCallID string
	// Events is the append-only audit log.
	Events []Event

	modified bool
}

// NewThread creates a thread owned by agentID, seeded with at least one
// message.
func NewThread(id, agentID string, seed core.Message) *Thread {
	if id == "" {
		id = util.NewID()
	}
	return &Thread{
		ID:       id,
		AgentID:  agentID,
		Messages: []core.Message{seed},
		modified: true,
	}
}

// IsMain reports whether this is the task's root thread.
func (t *Thread) IsMain() bool { return t.ID == MainThreadID }

// LatestMessage returns the last message of the transcript.
func (t *Thread) LatestMessage() core.Message {
	return t.Messages[len(t.Messages)-1]
}

// Append adds messages to the transcript and marks the thread modified.
func (t *Thread) Append(messages ...core.Message) {
	t.Messages = append(t.Messages, messages...)
	t.modified = true
}

// ReplaceMessages swaps the transcript wholesale (used after a generation
// returns an extended transcript). The transcript must stay non-empty.
func (t *Thread) ReplaceMessages(messages []core.Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("thread %s: transcript must not be empty", t.ID)
	}
	t.Messages = messages
	t.modified = true
	return nil
}

// AddEvent appends an audit record.
func (t *Thread) AddEvent(ev Event) {
	t.Events = append(t.Events, ev)
	t.modified = true
}

// Reassign hands the thread to another agent (transfer semantics; no new
// thread is created).
func (t *Thread) Reassign(agentID string) {
	t.AgentID = agentID
	t.modified = true
}

// Modified reports whether the thread changed since the last ResetModified.
func (t *Thread) Modified() bool { return t.modified }

// ResetModified clears the modified flag, typically after persisting.
func (t *Thread) ResetModified() { t.modified = false }

// Clone returns a deep-enough copy for concurrent branching: the message
// slice and event log are copied, messages themselves are immutable except
// for tool-call messages, which are copied call-wise.
func (t *Thread) Clone() *Thread {
	messages := make([]core.Message, len(t.Messages))
	for i, m := range t.Messages {
		if tc, ok := m.(*core.ToolCallMessage); ok {
			messages[i] = tc.Clone()
			continue
		}
		messages[i] = m
	}
	return &Thread{
		ID:               t.ID,
		AgentID:          t.AgentID,
		Messages:         messages,
		ParentThreadID:   t.ParentThreadID,
		ParentToolCallID: t.ParentToolCallID,
		Events:           append([]Event{}, t.Events...),
		modified:         t.modified,
	}
}
