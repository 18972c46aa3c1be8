package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// messageEnvelope is the persisted wire shape of a Message. The role tag
// selects the concrete variant on decode.
type messageEnvelope struct {
	Role      Role            `json:"role"`
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Content   json.RawMessage `json:"content,omitempty"`
	ToolCalls []ToolCall      `json:"toolCalls,omitempty"`
}

// partEnvelope is the persisted wire shape of a ContentPart.
type partEnvelope struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// EncodeMessage marshals any message variant into its envelope form.
func EncodeMessage(m Message) ([]byte, error) {
	env := messageEnvelope{Role: m.Role(), ID: m.MessageID(), CreatedAt: m.Timestamp()}
	switch msg := m.(type) {
	case SystemMessage:
		env.Content = mustJSON(msg.Content)
	case UserMessage:
		parts := make([]partEnvelope, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			switch part := p.(type) {
			case TextContent:
				parts = append(parts, partEnvelope{Type: "text", Text: part.Text})
			case ImageContent:
				parts = append(parts, partEnvelope{Type: "image", URL: part.URL, Data: part.Data, MimeType: part.MimeType})
			default:
				return nil, fmt.Errorf("unknown content part type %T", p)
			}
		}
		env.Content = mustJSON(parts)
	case AssistantMessage:
		env.Content = mustJSON(msg.Content)
	case *ToolCallMessage:
		env.Content = mustJSON(msg.Content)
		env.ToolCalls = msg.ToolCalls
	default:
		return nil, fmt.Errorf("unknown message type %T", m)
	}
	return json.Marshal(env)
}

// DecodeMessage restores a message variant from its envelope form.
func DecodeMessage(data []byte) (Message, error) {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Role {
	case RoleSystem:
		var content string
		if err := json.Unmarshal(env.Content, &content); err != nil {
			return nil, fmt.Errorf("decode system message content: %w", err)
		}
		return SystemMessage{ID: env.ID, Created: env.CreatedAt, Content: content}, nil
	case RoleUser:
		var rawParts []partEnvelope
		if err := json.Unmarshal(env.Content, &rawParts); err != nil {
			return nil, fmt.Errorf("decode user message content: %w", err)
		}
		parts := make([]ContentPart, 0, len(rawParts))
		for _, p := range rawParts {
			switch p.Type {
			case "text":
				parts = append(parts, TextContent{Text: p.Text})
			case "image":
				parts = append(parts, ImageContent{URL: p.URL, Data: p.Data, MimeType: p.MimeType})
			default:
				return nil, fmt.Errorf("unknown content part type %q", p.Type)
			}
		}
		return UserMessage{ID: env.ID, Created: env.CreatedAt, Parts: parts}, nil
	case RoleAssistant:
		var content string
		if err := json.Unmarshal(env.Content, &content); err != nil {
			return nil, fmt.Errorf("decode assistant message content: %w", err)
		}
		return AssistantMessage{ID: env.ID, Created: env.CreatedAt, Content: content}, nil
	case RoleAssistantWithTools:
		var content string
		if len(env.Content) > 0 {
			if err := json.Unmarshal(env.Content, &content); err != nil {
				return nil, fmt.Errorf("decode tool call message content: %w", err)
			}
		}
		return &ToolCallMessage{ID: env.ID, Created: env.CreatedAt, Content: content, ToolCalls: env.ToolCalls}, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", env.Role)
	}
}

// EncodeMessages marshals an ordered message list.
func EncodeMessages(messages []Message) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(messages))
	for _, m := range messages {
		b, err := EncodeMessage(m)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

// DecodeMessages restores an ordered message list.
func DecodeMessages(data []byte) ([]Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(raw))
	for _, r := range raw {
		m, err := DecodeMessage(r)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable for unmarshalable tool results; encode the error
		// text instead of failing the whole envelope.
		b, _ = json.Marshal(fmt.Sprintf("unserializable value: %v", err))
	}
	return b
}
