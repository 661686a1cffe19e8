package domain

import "context"

// Role is the canonical role of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the canonical internal chat message. Content is always a string.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// MessageType is the role vocabulary of provider-native messages.
type MessageType string

const (
	MessageTypeHuman  MessageType = "human"
	MessageTypeAI     MessageType = "ai"
	MessageTypeSystem MessageType = "system"
	MessageTypeTool   MessageType = "tool"
)

// ProviderMessage is the message shape exchanged with ChatModel implementations.
// Content is either a string or a []any of content blocks as decoded from the
// provider's JSON.
type ProviderMessage struct {
	Type       MessageType `json:"type"`
	Content    any         `json:"content"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	// Model is the model that produced the message, set on responses.
	Model string `json:"model,omitempty"`
}

// StreamEvent is one increment of a streamed response. A non-nil Err is the
// final event of the stream.
type StreamEvent struct {
	Content string
	Err     error

	// Model is the name of the model producing the stream. It is set by the
	// caller that opened the stream, not by the provider.
	Model string
}

// ChatModel is a client bound to one model configuration.
type ChatModel interface {
	Name() string

	// Invoke sends the messages and returns the complete response.
	Invoke(ctx context.Context, msgs []ProviderMessage) (*ProviderMessage, error)

	// Stream returns a channel of events.
	// The channel MUST be closed by the implementation when done.
	Stream(ctx context.Context, msgs []ProviderMessage) (<-chan StreamEvent, error)
}
