package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, msg any)
	}{
		{
			name: "audio",
			raw:  `{"type":"audio","audio":"AAAA","mimeType":"audio/pcm;rate=16000"}`,
			check: func(t *testing.T, msg any) {
				m, ok := msg.(AudioMessage)
				if !ok {
					t.Fatalf("got %T", msg)
				}
				if m.Audio != "AAAA" || m.MimeType != MimePCM16k {
					t.Errorf("fields wrong: %+v", m)
				}
			},
		},
		{
			name: "user text",
			raw:  `{"type":"user","text":"add milk"}`,
			check: func(t *testing.T, msg any) {
				m, ok := msg.(UserMessage)
				if !ok || m.Text != "add milk" {
					t.Fatalf("got %#v", msg)
				}
			},
		},
		{
			name: "tool response",
			raw:  `{"type":"tool_response","id":"c1","name":"add_item","response":{"ok":true}}`,
			check: func(t *testing.T, msg any) {
				m, ok := msg.(ToolResponseMessage)
				if !ok || m.ID != "c1" || m.Response["ok"] != true {
					t.Fatalf("got %#v", msg)
				}
			},
		},
		{name: "missing audio payload", raw: `{"type":"audio","mimeType":"audio/mp3"}`, wantErr: true},
		{name: "empty user text", raw: `{"type":"user","text":"  "}`, wantErr: true},
		{name: "tool response without id", raw: `{"type":"tool_response","name":"x"}`, wantErr: true},
		{name: "unknown type", raw: `{"type":"bogus"}`, wantErr: true},
		{name: "server-only type rejected", raw: `{"type":"delta","text":"hi"}`, wantErr: true},
		{name: "not json", raw: `{{`, wantErr: true},
		{name: "missing type", raw: `{"text":"x"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestDecodeServerMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, msg any)
	}{
		{
			name: "delta",
			raw:  `{"type":"delta","text":"Привет"}`,
			check: func(t *testing.T, msg any) {
				m, ok := msg.(DeltaMessage)
				if !ok || m.Text != "Привет" {
					t.Fatalf("got %#v", msg)
				}
			},
		},
		{
			name: "tool call",
			raw:  `{"type":"tool","id":"c9","name":"list_inventory","args":{"category":"dairy"}}`,
			check: func(t *testing.T, msg any) {
				m, ok := msg.(ToolCallMessage)
				if !ok || m.ID != "c9" || m.Name != "list_inventory" {
					t.Fatalf("got %#v", msg)
				}
				if m.Args["category"] != "dairy" {
					t.Errorf("args = %v", m.Args)
				}
			},
		},
		{
			name: "done",
			raw:  `{"type":"done"}`,
			check: func(t *testing.T, msg any) {
				if _, ok := msg.(DoneMessage); !ok {
					t.Fatalf("got %T", msg)
				}
			},
		},
		{
			name: "error",
			raw:  `{"type":"error","message":"model overloaded"}`,
			check: func(t *testing.T, msg any) {
				m, ok := msg.(ErrorMessage)
				if !ok || m.Message != "model overloaded" {
					t.Fatalf("got %#v", msg)
				}
			},
		},
		{name: "tool without id", raw: `{"type":"tool","name":"x"}`, wantErr: true},
		{name: "tool without name", raw: `{"type":"tool","id":"c1"}`, wantErr: true},
		{name: "client-only type rejected", raw: `{"type":"user","text":"hi"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeServerMessage([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestConstructorsProduceDecodableFrames(t *testing.T) {
	payload, err := json.Marshal(NewToolCall("c1", "add_item", map[string]any{"n": 2.0}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := DecodeServerMessage(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := msg.(ToolCallMessage)
	if m.ID != "c1" || m.Name != "add_item" || m.Args["n"] != 2.0 {
		t.Errorf("round trip lost fields: %+v", m)
	}

	payload, _ = json.Marshal(NewToolResponse("c1", "add_item", map[string]any{"ok": true}))
	if _, err := DecodeClientMessage(payload); err != nil {
		t.Errorf("tool response round trip: %v", err)
	}
}
