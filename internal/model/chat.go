package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall references a tool invocation made by an assistant message.
type ToolCall struct {
	ID   string          `json:"id" yaml:"id"`
	Name string          `json:"name" yaml:"name"`
	Args json.RawMessage `json:"args,omitempty" yaml:"-"`
}

// ChatMessage is a durable chat message record.
type ChatMessage struct {
	ID         string     `json:"id" yaml:"id"`
	Role       Role       `json:"role" yaml:"role"`
	Content    string     `json:"content" yaml:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty" yaml:"name,omitempty"`
	Truncated  bool       `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
}

// StreamingToolCall is an in-flight tool call of the turn being streamed.
type StreamingToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	HasResult bool            `json:"hasResult"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// ResultText renders the tool result as message content. JSON strings are unquoted.
func (c StreamingToolCall) ResultText() string {
	if len(c.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.Result, &s); err == nil {
		return s
	}
	return string(c.Result)
}

// StreamingState is the transient accumulation of one assistant turn.
type StreamingState struct {
	MessageID string              `json:"message_id"`
	Content   string              `json:"content"`
	ToolCalls []StreamingToolCall `json:"tool_calls"`
}

// SendChatRequest is the body of POST /chats/{id}/send.
type SendChatRequest struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
}

// ChatEvent is one decoded event of a chat stream.
type ChatEvent interface {
	chatEvent()
}

// DeltaEvent appends text to the streaming message.
type DeltaEvent struct {
	Content string
}

// ToolEvent reports a tool call being invoked or completed.
type ToolEvent struct {
	Call StreamingToolCall
}

// ChatDoneEvent terminates a turn successfully.
type ChatDoneEvent struct {
	MessageID string
}

// ChatErrorEvent terminates a turn with a failure.
type ChatErrorEvent struct {
	Message string
}

func (DeltaEvent) chatEvent()     {}
func (ToolEvent) chatEvent()      {}
func (ChatDoneEvent) chatEvent()  {}
func (ChatErrorEvent) chatEvent() {}

type chatWire struct {
	Type      string          `json:"type"`
	Content   *string         `json:"content"`
	MessageID string          `json:"message_id"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	HasResult bool            `json:"hasResult"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`
}

// DecodeChatEvent decodes one SSE data payload of a chat stream.
// A payload with content and no type is a token delta.
func DecodeChatEvent(data []byte) (ChatEvent, error) {
	var w chatWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ProtocolError{Payload: string(data), Err: err}
	}

	switch w.Type {
	case "", "delta", "token":
		if w.Content == nil {
			return nil, &ProtocolError{Payload: string(data), Err: fmt.Errorf("delta without content")}
		}
		return DeltaEvent{Content: *w.Content}, nil
	case "tool_call", "tool":
		if w.Name == "" && w.ID == "" {
			return nil, &ProtocolError{Payload: string(data), Err: fmt.Errorf("tool event without name or id")}
		}
		return ToolEvent{Call: StreamingToolCall{
			ID:        w.ID,
			Name:      w.Name,
			Args:      w.Args,
			HasResult: w.HasResult,
			Result:    w.Result,
		}}, nil
	case "done":
		return ChatDoneEvent{MessageID: w.MessageID}, nil
	case "error":
		msg := w.Error
		if msg == "" {
			msg = "chat stream failed"
		}
		return ChatErrorEvent{Message: msg}, nil
	default:
		return nil, &ProtocolError{Payload: string(data), Err: fmt.Errorf("unknown event type %q", w.Type)}
	}
}
