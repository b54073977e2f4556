// Command relay-talk is a terminal client for the voice relay: microphone
// in, speaker out, typed text as a fallback, with an in-memory inventory
// backing the model's tool calls.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/pantryline/voicerelay/internal/dotenv"
	"github.com/pantryline/voicerelay/pkg/relay/audio"
	"github.com/pantryline/voicerelay/pkg/relay/session"
	"github.com/pantryline/voicerelay/pkg/relay/synth"
	"github.com/pantryline/voicerelay/pkg/relay/tools"
	"github.com/pantryline/voicerelay/pkg/relay/transport"
	"github.com/pantryline/voicerelay/pkg/relay/turn"
	"github.com/pantryline/voicerelay/pkg/relay/vad"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay-talk: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := dotenv.Load(".env"); err != nil {
		return err
	}

	urlFlag := flag.String("url", envOr("RELAY_URL", "ws://localhost:8080/live"), "relay live endpoint")
	keyFlag := flag.String("key", os.Getenv("RELAY_API_KEY"), "relay API key")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	spk, err := newSpeaker(audio.DefaultPlaybackFormat())
	if err != nil {
		return err
	}
	defer spk.Close()

	header := http.Header{}
	if *keyFlag != "" {
		header.Set("Authorization", "Bearer "+*keyFlag)
	}

	pantry := newPantry()

	ctrl := session.New(session.Config{
		Transport: transport.Config{
			URL:    *urlFlag,
			Header: header,
		},
		Microphone:  newMicCapture(audio.DefaultCaptureFormat()),
		Synthesizer: newSynthesizer(logger),
		Tools:       pantry.handlers(),
		Player: func(e turn.Entry) {
			spk.Write(e.Buffer.PCM16())
		},
		OnTranscript: func(text string, user bool) {
			if user {
				fmt.Printf("you: %s\n", text)
				return
			}
			fmt.Printf("assistant: %s\n", text)
		},
		OnActivity: func(state vad.State) {
			logger.Debug("voice activity", "state", state)
		},
		OnEndOfTurnHint: func() {
			logger.Debug("input silence after speech")
		},
		OnError: func(err error) {
			logger.Warn("session event error", "error", err)
		},
		Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Println("connected; speak, or type a message (/quit to exit)")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-sigCh:
			ctrl.Stop()
			return nil
		case <-ctrl.Done():
			return ctrl.Err()
		case line, ok := <-lines:
			if !ok {
				ctrl.Stop()
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" {
				ctrl.Stop()
				return nil
			}
			if err := ctrl.SendText(line); err != nil {
				logger.Warn("send failed", "error", err)
			}
		}
	}
}

// newSynthesizer picks the speech backend for assistant sentences. With an
// ElevenLabs key configured the client speaks them; otherwise it stays
// text-only.
func newSynthesizer(logger *slog.Logger) turn.Synthesizer {
	apiKey := strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY"))
	if apiKey == "" {
		logger.Info("ELEVENLABS_API_KEY not set, responses stay text-only")
		return turn.SynthesizerFunc(silentSynthesis)
	}
	eleven, err := synth.NewElevenLabs(synth.ElevenLabsConfig{
		APIKey:  apiKey,
		VoiceID: envOr("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
	})
	if err != nil {
		logger.Warn("elevenlabs setup failed, responses stay text-only", "error", err)
		return turn.SynthesizerFunc(silentSynthesis)
	}
	return eleven
}

// silentSynthesis is the text-only fallback: an empty buffer keeps the
// sentence sequencer running without producing playable audio.
func silentSynthesis(_ context.Context, _ string) (audio.Buffer, error) {
	return audio.Buffer{SampleRate: audio.DefaultPlaybackFormat().SampleRate}, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// pantry is the in-memory inventory the tool calls operate on.
type pantry struct {
	mu       sync.Mutex
	items    map[string]float64
	shopping map[string]float64
}

func newPantry() *pantry {
	return &pantry{
		items:    make(map[string]float64),
		shopping: make(map[string]float64),
	}
}

func (p *pantry) handlers() map[string]tools.Handler {
	return map[string]tools.Handler{
		"add_inventory_item":     p.addItem,
		"remove_inventory_item":  p.removeItem,
		"list_inventory":         p.listItems,
		"add_shopping_list_item": p.addShopping,
	}
}

func (p *pantry) addItem(_ context.Context, args map[string]any) (map[string]any, error) {
	name, qty, err := itemArgs(args)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.items[name] += qty
	total := p.items[name]
	p.mu.Unlock()
	return map[string]any{"name": name, "quantity": total}, nil
}

func (p *pantry) removeItem(_ context.Context, args map[string]any) (map[string]any, error) {
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("name is required")
	}
	name = strings.ToLower(strings.TrimSpace(name))

	p.mu.Lock()
	defer p.mu.Unlock()
	current, exists := p.items[name]
	if !exists {
		return map[string]any{"name": name, "quantity": 0, "removed": false}, nil
	}
	qty, hasQty := args["quantity"].(float64)
	if !hasQty || qty >= current {
		delete(p.items, name)
		return map[string]any{"name": name, "quantity": 0, "removed": true}, nil
	}
	p.items[name] = current - qty
	return map[string]any{"name": name, "quantity": p.items[name], "removed": true}, nil
}

func (p *pantry) listItems(_ context.Context, _ map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := make([]map[string]any, 0, len(p.items))
	for name, qty := range p.items {
		items = append(items, map[string]any{"name": name, "quantity": qty})
	}
	return map[string]any{"items": items}, nil
}

func (p *pantry) addShopping(_ context.Context, args map[string]any) (map[string]any, error) {
	name, qty, err := itemArgs(args)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.shopping[name] += qty
	total := p.shopping[name]
	p.mu.Unlock()
	return map[string]any{"name": name, "quantity": total}, nil
}

func itemArgs(args map[string]any) (string, float64, error) {
	name, ok := args["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return "", 0, fmt.Errorf("name is required")
	}
	qty, ok := args["quantity"].(float64)
	if !ok || qty <= 0 {
		qty = 1
	}
	return strings.ToLower(strings.TrimSpace(name)), qty, nil
}
