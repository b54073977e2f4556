// Package model abstracts the conversational model behind the relay. A
// Provider streams one assistant turn at a time: text deltas and tool calls
// out, conversation history and tool results in.
package model

import "context"

// Role identifies who produced a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to run a host-side function.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the host's answer to a ToolCall.
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// Message is one entry of the conversation history.
type Message struct {
	Role Role
	Text string

	// AudioPCM carries captured user audio when the entry is spoken
	// rather than typed. MimeType describes its format.
	AudioPCM []byte
	MimeType string

	Call   *ToolCall
	Result *ToolResult
}

// ToolDecl describes a callable function to the model. Parameters is a JSON
// Schema object ("type", "properties", "required", and so on).
type ToolDecl struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// TurnRequest asks the provider to generate the next assistant turn.
type TurnRequest struct {
	System  string
	History []Message
	Tools   []ToolDecl
}

// EventType discriminates streamed turn events.
type EventType int

const (
	EventTextDelta EventType = iota
	EventToolCall
)

// Event is one streamed piece of an assistant turn.
type Event struct {
	Type EventType
	Text string
	Call *ToolCall
}

// Provider generates assistant turns. StreamTurn calls emit for each event
// in generation order and returns once the turn is complete; a non-nil emit
// error aborts the stream.
type Provider interface {
	StreamTurn(ctx context.Context, req TurnRequest, emit func(Event) error) error
	Close() error
}
