// Package protocol defines the message model shared by the orchestration,
// recall and extraction subsystems.
//
// Message content is polymorphic: a message carries an ordered list of parts,
// each of which is a text block, an image reference, a tool call or a tool
// result. Parts serialize to JSON with an explicit "type" tag so every
// consumer can handle variants exhaustively.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single conversation turn.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewTextMessage builds a message with a single text part.
func NewTextMessage(role Role, text string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     []Part{TextPart{Text: text}},
		CreatedAt: time.Now(),
	}
}

// Part is one content block of a message.
type Part interface {
	PartType() string
}

// TextPart carries plain text content.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) PartType() string { return "text" }

// ImagePart references an image by URL.
type ImagePart struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

func (ImagePart) PartType() string { return "image" }

// ToolCallPart records a model-issued tool invocation.
type ToolCallPart struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (ToolCallPart) PartType() string { return "tool_call" }

// ToolResultPart records the outcome of a tool invocation.
type ToolResultPart struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

func (ToolResultPart) PartType() string { return "tool_result" }

// partEnvelope is the wire form of a Part: the variant payload plus its tag.
type partEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON serializes the message with tagged parts.
func (m *Message) MarshalJSON() ([]byte, error) {
	type alias Message
	envelopes := make([]partEnvelope, 0, len(m.Parts))
	for _, p := range m.Parts {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s part: %w", p.PartType(), err)
		}
		envelopes = append(envelopes, partEnvelope{Type: p.PartType(), Data: data})
	}

	return json.Marshal(&struct {
		*alias
		Parts []partEnvelope `json:"parts"`
	}{alias: (*alias)(m), Parts: envelopes})
}

// UnmarshalJSON decodes tagged parts back into their concrete variants.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := &struct {
		*alias
		Parts []partEnvelope `json:"parts"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	m.Parts = make([]Part, 0, len(aux.Parts))
	for _, env := range aux.Parts {
		part, err := decodePart(env)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func decodePart(env partEnvelope) (Part, error) {
	switch env.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode text part: %w", err)
		}
		return p, nil
	case "image":
		var p ImagePart
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode image part: %w", err)
		}
		return p, nil
	case "tool_call":
		var p ToolCallPart
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode tool_call part: %w", err)
		}
		return p, nil
	case "tool_result":
		var p ToolResultPart
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode tool_result part: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", env.Type)
	}
}

// ExtractText concatenates the text parts of a message.
// Image references, tool calls and tool results contribute nothing.
func ExtractText(msg *Message) string {
	if msg == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case TextPart:
			b.WriteString(p.Text)
		case *TextPart:
			b.WriteString(p.Text)
		case ImagePart, *ImagePart, ToolCallPart, *ToolCallPart, ToolResultPart, *ToolResultPart:
			// non-text variants are skipped
		}
	}
	return b.String()
}

// ToolCalls returns all tool-call parts of a message in order.
func ToolCalls(msg *Message) []ToolCallPart {
	if msg == nil {
		return nil
	}

	var calls []ToolCallPart
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case ToolCallPart:
			calls = append(calls, p)
		case *ToolCallPart:
			calls = append(calls, *p)
		}
	}
	return calls
}
