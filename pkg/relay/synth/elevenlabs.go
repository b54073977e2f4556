// Package synth provides speech synthesis backends for sentence playback.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pantryline/voicerelay/pkg/relay"
	"github.com/pantryline/voicerelay/pkg/relay/audio"
)

const (
	elevenLabsDefaultBaseURL = "https://api.elevenlabs.io"
	elevenLabsDefaultModel   = "eleven_flash_v2_5"
)

// ElevenLabsConfig configures the ElevenLabs backend. APIKey and VoiceID
// are required.
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	// ModelID defaults to the low-latency flash model.
	ModelID string
	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// Format is the requested PCM output shape. Zero means the default
	// playback format.
	Format audio.Format
}

// ElevenLabs synthesizes one sentence per request over the ElevenLabs
// HTTP API, returning raw PCM16 decoded into a playable buffer.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	modelID string
	baseURL string
	client  *http.Client
	format  audio.Format
}

// NewElevenLabs validates the config and returns the backend.
func NewElevenLabs(cfg ElevenLabsConfig) (*ElevenLabs, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, relay.NewSynthesisError("synth: elevenlabs api key is required", nil)
	}
	voiceID := strings.TrimSpace(cfg.VoiceID)
	if voiceID == "" {
		return nil, relay.NewSynthesisError("synth: elevenlabs voice id is required", nil)
	}
	modelID := strings.TrimSpace(cfg.ModelID)
	if modelID == "" {
		modelID = elevenLabsDefaultModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = elevenLabsDefaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	format := cfg.Format
	if format == (audio.Format{}) {
		format = audio.DefaultPlaybackFormat()
	}
	return &ElevenLabs{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: modelID,
		baseURL: baseURL,
		client:  client,
		format:  format,
	}, nil
}

// Synthesize implements turn.Synthesizer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (audio.Buffer, error) {
	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		e.baseURL, url.PathEscape(e.voiceID), e.format.SampleRate)

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": e.modelID,
	})
	if err != nil {
		return audio.Buffer{}, relay.NewSynthesisError("synth: encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return audio.Buffer{}, relay.NewSynthesisError("synth: build request", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return audio.Buffer{}, relay.NewSynthesisError("synth: elevenlabs request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return audio.Buffer{}, relay.NewSynthesisError(
			fmt.Sprintf("synth: elevenlabs status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Buffer{}, relay.NewSynthesisError("synth: read audio", err)
	}
	return audio.DecodePCM16(pcm, e.format.SampleRate, e.format.Channels)
}
