package core

import (
	"strings"
	"time"

	"github.com/hupe1980/taskmesh/internal/util"
)

// Role tags the shape of a conversation message.
type Role string

const (
	// RoleSystem tags a system instruction message.
	RoleSystem Role = "system"
	// RoleUser tags a user message carrying ordered content parts.
	RoleUser Role = "user"
	// RoleAssistant tags a plain assistant text response.
	RoleAssistant Role = "assistant"
	// RoleAssistantWithTools tags an assistant response requesting tool calls.
	RoleAssistantWithTools Role = "assistant_with_tools"
)

// Message is the closed union of conversation turns. Messages are immutable
// once created: mutation happens by appending new messages, never by editing
// existing ones. The single exception is the tool-call list on a
// ToolCallMessage, whose calls advance through their execution lifecycle in
// place (see ToolCall).
//
// Only a ToolCallMessage carries tool calls.
type Message interface {
	isMessage()

	// MessageID returns the engine-assigned unique identifier.
	MessageID() string
	// Role returns the role tag identifying the concrete variant.
	Role() Role
	// Timestamp returns the creation time.
	Timestamp() time.Time
}

// SystemMessage is a system instruction turn.
type SystemMessage struct {
	ID      string    `json:"id"`
	Created time.Time `json:"createdAt"`
	Content string    `json:"content"`
}

func (SystemMessage) isMessage() {}

// MessageID returns the unique message identifier.
func (m SystemMessage) MessageID() string { return m.ID }

// Role returns RoleSystem.
func (m SystemMessage) Role() Role { return RoleSystem }

// Timestamp returns the creation time.
func (m SystemMessage) Timestamp() time.Time { return m.Created }

// UserMessage is a user turn holding an ordered sequence of content parts
// (text or image references).
type UserMessage struct {
	ID      string        `json:"id"`
	Created time.Time     `json:"createdAt"`
	Parts   []ContentPart `json:"content"`
}

func (UserMessage) isMessage() {}

// MessageID returns the unique message identifier.
func (m UserMessage) MessageID() string { return m.ID }

// Role returns RoleUser.
func (m UserMessage) Role() Role { return RoleUser }

// Timestamp returns the creation time.
func (m UserMessage) Timestamp() time.Time { return m.Created }

// Text concatenates the text parts of the message, skipping images.
func (m UserMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextContent); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// AssistantMessage is a plain assistant text turn.
type AssistantMessage struct {
	ID      string    `json:"id"`
	Created time.Time `json:"createdAt"`
	Content string    `json:"content"`
}

func (AssistantMessage) isMessage() {}

// MessageID returns the unique message identifier.
func (m AssistantMessage) MessageID() string { return m.ID }

// Role returns RoleAssistant.
func (m AssistantMessage) Role() Role { return RoleAssistant }

// Timestamp returns the creation time.
func (m AssistantMessage) Timestamp() time.Time { return m.Created }

// ToolCallMessage is an assistant turn that requests one or more tool calls.
// Content may be empty when the model emitted calls without accompanying text.
// This is the only message variant that carries tool calls.
type ToolCallMessage struct {
	ID        string     `json:"id"`
	Created   time.Time  `json:"createdAt"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls"`
}

func (*ToolCallMessage) isMessage() {}

// MessageID returns the unique message identifier.
func (m *ToolCallMessage) MessageID() string { return m.ID }

// Role returns RoleAssistantWithTools.
func (m *ToolCallMessage) Role() Role { return RoleAssistantWithTools }

// Timestamp returns the creation time.
func (m *ToolCallMessage) Timestamp() time.Time { return m.Created }

// Call returns the tool call with the given engine-assigned id, or nil.
func (m *ToolCallMessage) Call(id string) *ToolCall {
	for i := range m.ToolCalls {
		if m.ToolCalls[i].ID == id {
			return &m.ToolCalls[i]
		}
	}
	return nil
}

// Clone returns a copy with its own tool-call slice, keeping id and
// timestamp, so two task snapshots never share mutable call state.
func (m *ToolCallMessage) Clone() *ToolCallMessage {
	return &ToolCallMessage{
		ID:        m.ID,
		Created:   m.Created,
		Content:   m.Content,
		ToolCalls: append([]ToolCall{}, m.ToolCalls...),
	}
}

// PendingCalls reports whether any call has not reached a terminal execution
// state yet.
func (m *ToolCallMessage) PendingCalls() bool {
	for i := range m.ToolCalls {
		if !m.ToolCalls[i].Settled() {
			return true
		}
	}
	return false
}

// NewSystemMessage creates a system message with a fresh id and timestamp.
func NewSystemMessage(content string) SystemMessage {
	return SystemMessage{ID: util.NewID(), Created: time.Now().UTC(), Content: content}
}

// NewUserMessage creates a user message from content parts.
func NewUserMessage(parts ...ContentPart) UserMessage {
	return UserMessage{ID: util.NewID(), Created: time.Now().UTC(), Parts: parts}
}

// NewUserTextMessage creates a user message from plain text.
func NewUserTextMessage(text string) UserMessage {
	return NewUserMessage(TextContent{Text: text})
}

// NewAssistantMessage creates a plain assistant message.
func NewAssistantMessage(content string) AssistantMessage {
	return AssistantMessage{ID: util.NewID(), Created: time.Now().UTC(), Content: content}
}

// NewToolCallMessage creates an assistant message carrying tool calls.
func NewToolCallMessage(content string, calls []ToolCall) *ToolCallMessage {
	return &ToolCallMessage{ID: util.NewID(), Created: time.Now().UTC(), Content: content, ToolCalls: calls}
}

// MessageText extracts the display text of any message variant.
func MessageText(m Message) string {
	switch msg := m.(type) {
	case SystemMessage:
		return msg.Content
	case UserMessage:
		return msg.Text()
	case AssistantMessage:
		return msg.Content
	case *ToolCallMessage:
		return msg.Content
	}
	return ""
}
