package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_JSONRoundTrip(t *testing.T) {
	msg := NewTextMessage(RoleUser, "what is pod scheduling?")
	msg.Parts = append(msg.Parts,
		ImagePart{URL: "https://example.com/diagram.png", MimeType: "image/png"},
		ToolCallPart{CallID: "call-1", Name: "search", Arguments: map[string]any{"q": "pods"}},
		ToolResultPart{CallID: "call-1", Content: "3 results"},
	)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Len(t, decoded.Parts, 4)
	assert.Equal(t, "what is pod scheduling?", decoded.Parts[0].(TextPart).Text)
	assert.Equal(t, "https://example.com/diagram.png", decoded.Parts[1].(ImagePart).URL)

	call := decoded.Parts[2].(ToolCallPart)
	assert.Equal(t, "search", call.Name)
	assert.Equal(t, "pods", call.Arguments["q"])

	result := decoded.Parts[3].(ToolResultPart)
	assert.Equal(t, "call-1", result.CallID)
	assert.False(t, result.IsError)
}

func TestMessage_UnknownPartType(t *testing.T) {
	raw := `{"id":"m1","role":"user","parts":[{"type":"video","data":{}}],"created_at":"2026-01-01T00:00:00Z"}`

	var msg Message
	err := json.Unmarshal([]byte(raw), &msg)
	assert.ErrorContains(t, err, "unknown part type")
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "nil message",
			msg:  nil,
			want: "",
		},
		{
			name: "single text part",
			msg:  NewTextMessage(RoleUser, "hello"),
			want: "hello",
		},
		{
			name: "mixed parts keep only text",
			msg: &Message{Parts: []Part{
				TextPart{Text: "before "},
				ToolCallPart{CallID: "c", Name: "search"},
				TextPart{Text: "after"},
				ImagePart{URL: "x"},
			}},
			want: "before after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(tt.msg))
		})
	}
}

func TestToolCalls(t *testing.T) {
	msg := &Message{Parts: []Part{
		TextPart{Text: "calling tools"},
		ToolCallPart{CallID: "c1", Name: "search"},
		ToolCallPart{CallID: "c2", Name: "summarize"},
	}}

	calls := ToolCalls(msg)
	require.Len(t, calls, 2)
	assert.Equal(t, "search", calls[0].Name)
	assert.Equal(t, "summarize", calls[1].Name)
}
