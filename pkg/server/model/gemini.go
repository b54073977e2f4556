package model

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Gemini streams turns from the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a provider for the named model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("model: create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) StreamTurn(ctx context.Context, req TurnRequest, emit func(Event) error) error {
	contents := historyToContents(req.History)
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toolDecls(req.Tools)}}
	}

	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			return fmt.Errorf("model: generate stream: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					if err := emit(Event{Type: EventTextDelta, Text: part.Text}); err != nil {
						return err
					}
				}
				if fc := part.FunctionCall; fc != nil {
					id := fc.ID
					if id == "" {
						id = uuid.NewString()
					}
					call := &ToolCall{ID: id, Name: fc.Name, Args: fc.Args}
					if err := emit(Event{Type: EventToolCall, Call: call}); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (g *Gemini) Close() error {
	return nil
}

func historyToContents(history []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		switch {
		case m.Result != nil:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.Result.ID,
					Name:     m.Result.Name,
					Response: m.Result.Response,
				}}},
			})
		case m.Call != nil:
			contents = append(contents, &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{
					ID:   m.Call.ID,
					Name: m.Call.Name,
					Args: m.Call.Args,
				}}},
			})
		case len(m.AudioPCM) > 0:
			contents = append(contents, &genai.Content{
				Role: roleFor(m.Role),
				Parts: []*genai.Part{{InlineData: &genai.Blob{
					MIMEType: m.MimeType,
					Data:     m.AudioPCM,
				}}},
			})
		case m.Text != "":
			contents = append(contents, &genai.Content{
				Role:  roleFor(m.Role),
				Parts: []*genai.Part{{Text: m.Text}},
			})
		}
	}
	return contents
}

func roleFor(r Role) string {
	if r == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func toolDecls(tools []ToolDecl) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromJSON(t.Parameters),
		})
	}
	return decls
}

// schemaFromJSON converts a JSON Schema object into the genai schema type.
// Only the subset function declarations use is handled.
func schemaFromJSON(raw map[string]any) *genai.Schema {
	if raw == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := raw["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if d, ok := raw["description"].(string); ok {
		s.Description = d
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = schemaFromJSON(pm)
			}
		}
	}
	if req, ok := raw["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = schemaFromJSON(items)
	}
	if enum, ok := raw["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
