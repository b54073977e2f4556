// Package protocol defines the JSON wire messages exchanged between a voice
// relay client and server: one JSON object per WebSocket text frame.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/pantryline/voicerelay/pkg/relay"
)

const (
	// MimePCM16k is the outbound microphone audio encoding.
	MimePCM16k = "audio/pcm;rate=16000"
	// MimePCM24k is the inbound synthesized audio encoding.
	MimePCM24k = "audio/pcm;rate=24000"
	// MimeMP3 is an alternate inbound audio encoding.
	MimeMP3 = "audio/mp3"
)

func badFrame(message, param string) *relay.Error {
	return relay.NewDecodeError(message, param)
}

// AudioMessage carries one base64-encoded audio frame in either direction.
type AudioMessage struct {
	Type     string `json:"type"`
	Audio    string `json:"audio"`
	MimeType string `json:"mimeType"`
}

// UserMessage is a typed text entry from the client.
type UserMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResponseMessage returns one tool result to the server.
type ToolResponseMessage struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// DeltaMessage is one incremental chunk of model output text.
type DeltaMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallMessage asks the client to run a named tool and reply with its id.
type ToolCallMessage struct {
	Type string         `json:"type"`
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// DoneMessage ends the current model turn.
type DoneMessage struct {
	Type string `json:"type"`
}

// ErrorMessage reports a server-side failure for the current turn or session.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecodeClientMessage parses a frame sent by a client (audio, user,
// tool_response). Used by the server read loop.
func DecodeClientMessage(data []byte) (any, error) {
	typ, err := frameType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case "audio":
		var msg AudioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badFrame("audio.audio is required", "audio")
		}
		return msg, nil
	case "user":
		var msg UserMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid user frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badFrame("user.text is required", "text")
		}
		return msg, nil
	case "tool_response":
		var msg ToolResponseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid tool_response frame", "")
		}
		if strings.TrimSpace(msg.ID) == "" {
			return nil, badFrame("tool_response.id is required", "id")
		}
		return msg, nil
	default:
		return nil, badFrame("unsupported message type", "type")
	}
}

// DecodeServerMessage parses a frame sent by the server (delta, audio, tool,
// done, error). Used by the client read loop.
func DecodeServerMessage(data []byte) (any, error) {
	typ, err := frameType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case "delta":
		var msg DeltaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid delta frame", "")
		}
		return msg, nil
	case "audio":
		var msg AudioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badFrame("audio.audio is required", "audio")
		}
		return msg, nil
	case "tool":
		var msg ToolCallMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid tool frame", "")
		}
		if strings.TrimSpace(msg.Name) == "" {
			return nil, badFrame("tool.name is required", "name")
		}
		if strings.TrimSpace(msg.ID) == "" {
			return nil, badFrame("tool.id is required", "id")
		}
		return msg, nil
	case "done":
		var msg DoneMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid done frame", "")
		}
		return msg, nil
	case "error":
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, badFrame("unsupported message type", "type")
	}
}

func frameType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return "", badFrame("missing type", "type")
	}
	return typ, nil
}

// NewAudioMessage frames base64 PCM with its mime tag.
func NewAudioMessage(b64, mimeType string) AudioMessage {
	return AudioMessage{Type: "audio", Audio: b64, MimeType: mimeType}
}

// NewUserMessage frames a text-mode entry.
func NewUserMessage(text string) UserMessage {
	return UserMessage{Type: "user", Text: text}
}

// NewToolResponse frames one tool result for a call id.
func NewToolResponse(id, name string, response map[string]any) ToolResponseMessage {
	return ToolResponseMessage{Type: "tool_response", ID: id, Name: name, Response: response}
}

// NewDelta frames one model text delta.
func NewDelta(text string) DeltaMessage {
	return DeltaMessage{Type: "delta", Text: text}
}

// NewToolCall frames one tool invocation request.
func NewToolCall(id, name string, args map[string]any) ToolCallMessage {
	return ToolCallMessage{Type: "tool", ID: id, Name: name, Args: args}
}

// NewDone frames the end-of-turn signal.
func NewDone() DoneMessage {
	return DoneMessage{Type: "done"}
}

// NewError frames a server-side failure report.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}
