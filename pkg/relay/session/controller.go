// Package session orchestrates a live voice conversation: microphone
// capture, the server connection, turn sequencing, tool dispatch, and
// playback, behind a small start/stop surface.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pantryline/voicerelay/pkg/relay"
	"github.com/pantryline/voicerelay/pkg/relay/audio"
	"github.com/pantryline/voicerelay/pkg/relay/protocol"
	"github.com/pantryline/voicerelay/pkg/relay/tools"
	"github.com/pantryline/voicerelay/pkg/relay/transport"
	"github.com/pantryline/voicerelay/pkg/relay/turn"
	"github.com/pantryline/voicerelay/pkg/relay/vad"
)

// State is the controller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Microphone captures PCM from the host's input device. Start delivers
// mono float32 chunks at the configured capture rate until Stop or context
// cancellation.
type Microphone interface {
	Start(ctx context.Context, onChunk func(samples []float32)) error
	Stop() error
}

// prerollMS bounds how much pre-activation microphone audio is kept.
const prerollMS = 500

// Config assembles a controller. Transport, Microphone and Synthesizer are
// required; everything else has working defaults.
type Config struct {
	Transport   transport.Config
	Microphone  Microphone
	Synthesizer turn.Synthesizer

	// Tools maps tool names to host handlers.
	Tools map[string]tools.Handler

	// Player receives scheduled playback entries. Nil drops audio, which
	// is useful for text-only consumers.
	Player func(turn.Entry)

	// OnTranscript receives spoken assistant text as it is flushed for
	// synthesis, and echoed user text.
	OnTranscript func(text string, user bool)
	// OnActivity receives voice activity transitions.
	OnActivity func(state vad.State)
	// OnEndOfTurnHint fires after sustained input silence following speech.
	// A heuristic for the host; the server still decides turn boundaries.
	OnEndOfTurnHint func()
	// OnError receives non-fatal per-event errors. Fatal errors end the
	// session and surface through Err instead.
	OnError func(err error)

	Capture  audio.Format
	Playback audio.Format
	VAD      vad.Config

	// PlaybackClock reports the position on the output timeline. Defaults
	// to time since the session became active.
	PlaybackClock func() time.Duration

	Logger *slog.Logger
}

// Controller runs one conversation session. It is single-shot: after Stop
// it cannot be restarted, make a new one.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	err   error

	conn      *transport.Session
	sequencer *turn.Sequencer
	queue     *turn.PlaybackQueue
	bridge    *tools.Bridge
	monitor   *vad.Monitor
	preroll   *audio.RingBuffer

	cancel context.CancelFunc
	done   chan struct{}

	// lifecycle serializes Start and the teardown in stop, so Stop never
	// observes a half-assembled session.
	lifecycle sync.Mutex

	stopOnce sync.Once
	doneOnce sync.Once
}

// New creates an idle controller. Call Start to begin the session.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capture == (audio.Format{}) {
		cfg.Capture = audio.DefaultCaptureFormat()
	}
	if cfg.Playback == (audio.Format{}) {
		cfg.Playback = audio.DefaultPlaybackFormat()
	}
	if cfg.VAD == (vad.Config{}) {
		cfg.VAD = vad.DefaultConfig()
	}
	return &Controller{
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the fatal error that ended the session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the session has fully stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start connects, acquires the microphone, and runs the session loops. It
// returns once the session is active or a fatal startup error occurred. On
// error everything acquired so far is released.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return relay.NewClosedError("session: already started")
	}
	c.state = StateStarting
	c.mu.Unlock()

	if c.cfg.Microphone == nil {
		return c.failStart(relay.NewMicrophoneAccessError("session: no microphone configured", nil))
	}
	if c.cfg.Synthesizer == nil {
		return c.failStart(relay.NewConnectError("session: no synthesizer configured", nil))
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	conn, err := transport.Open(ctx, c.cfg.Transport)
	if err != nil {
		cancel()
		return c.failStart(err)
	}
	c.conn = conn

	startedAt := time.Now()
	clock := c.cfg.PlaybackClock
	if clock == nil {
		clock = func() time.Duration { return time.Since(startedAt) }
	}
	c.queue = turn.NewPlaybackQueue(clock, c.play)

	c.sequencer = turn.NewSequencer(ctx, c.cfg.Synthesizer, c.queue, turn.Callbacks{
		OnTranscript: func(text string) { c.transcript(text, false) },
		OnSynthesisError: func(text string, err error) {
			c.report(relay.NewSynthesisError("session: synthesis failed for "+snippet(text), err))
		},
	})

	c.bridge = tools.NewBridge(ctx, func(resp protocol.ToolResponseMessage) {
		if err := conn.SendToolResponse(resp); err != nil {
			c.report(err)
		}
	})
	for name, h := range c.cfg.Tools {
		c.bridge.Register(name, h)
	}

	c.monitor = vad.NewMonitor(c.cfg.VAD, time.Now)
	c.monitor.SetCallbacks(c.cfg.OnActivity, c.cfg.OnEndOfTurnHint)

	// The microphone runs before the session flips active. Chunks from
	// that window land in the pre-roll ring and are flushed ahead of the
	// first live chunk, so the opening of an utterance is not clipped.
	c.preroll = audio.NewRingBuffer(c.cfg.Capture, prerollMS)

	if err := c.cfg.Microphone.Start(ctx, c.onCapture); err != nil {
		conn.Close()
		c.sequencer.Close()
		c.bridge.Close()
		cancel()
		return c.failStart(relay.NewMicrophoneAccessError("session: microphone start failed", err))
	}

	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()
	c.logger.Info("session active", "url", c.cfg.Transport.URL)

	go c.receiveLoop(ctx)
	return nil
}

func (c *Controller) failStart(err error) error {
	c.mu.Lock()
	c.state = StateErrored
	c.err = err
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
	return err
}

// SendText sends a typed user utterance over the live connection.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if state != StateActive || conn == nil {
		return relay.NewNotConnectedError("session: not active")
	}
	if err := conn.SendText(text); err != nil {
		return err
	}
	c.transcript(text, true)
	return nil
}

// Stop ends the session: microphone released, connection closed, in-flight
// work cancelled. Safe to call any number of times and from any goroutine.
func (c *Controller) Stop() {
	c.stopOnce.Do(c.stop)
	<-c.done
}

func (c *Controller) stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state == StateErrored || c.state == StateStopped || c.state == StateIdle {
		// Stopping an idle controller retires it: a later Start must fail.
		if c.state == StateIdle {
			c.state = StateStopped
		}
		c.mu.Unlock()
		c.doneOnce.Do(func() { close(c.done) })
		return
	}
	c.state = StateStopping
	conn := c.conn
	c.mu.Unlock()

	if c.cfg.Microphone != nil {
		if err := c.cfg.Microphone.Stop(); err != nil {
			c.logger.Warn("microphone stop failed", "error", err)
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if c.sequencer != nil {
		c.sequencer.Close()
	}
	if c.bridge != nil {
		c.bridge.Close()
	}
	if c.queue != nil {
		c.queue.Stop()
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
	c.logger.Info("session stopped")
}

// onCapture runs on the microphone callback thread.
func (c *Controller) onCapture(samples []float32) {
	c.mu.Lock()
	conn := c.conn
	active := c.state == StateActive
	preroll := c.preroll
	c.mu.Unlock()

	if !active || conn == nil {
		if preroll != nil {
			preroll.Write(audio.PCM16FromFloat32(samples))
		}
		return
	}

	if preroll != nil && preroll.Filled() > 0 {
		buffered := preroll.Read()
		preroll.Clear()
		if err := conn.SendAudio(audio.EncodePCM16(buffered), protocol.MimePCM16k); err != nil {
			c.report(err)
			return
		}
	}

	b64 := audio.EncodeOutbound(samples)
	if err := conn.SendAudio(b64, protocol.MimePCM16k); err != nil {
		c.report(err)
		return
	}
	c.monitor.ObserveInput(audio.PCM16FromFloat32(samples))
}

func (c *Controller) receiveLoop(ctx context.Context) {
	for msg := range c.conn.Messages() {
		switch m := msg.(type) {
		case protocol.DeltaMessage:
			c.sequencer.HandleDelta(m.Text)
		case protocol.AudioMessage:
			buf, err := audio.DecodeInbound(m.Audio, c.cfg.Playback.SampleRate, c.cfg.Playback.Channels)
			if err != nil {
				c.report(err)
				continue
			}
			if _, err := c.queue.Schedule(buf); err != nil {
				return
			}
			c.monitor.ObserveOutput(buf.PCM16())
		case protocol.ToolCallMessage:
			c.bridge.Dispatch(m)
		case protocol.DoneMessage:
			c.sequencer.HandleEndOfTurn()
		case protocol.ErrorMessage:
			c.report(relay.NewServerError(m.Message))
		}
	}

	// Connection ended. A clean close during Stop is not an error.
	if err := c.conn.Err(); err != nil && c.State() == StateActive {
		c.mu.Lock()
		if c.err == nil {
			c.err = relay.NewNotConnectedError("session: connection lost")
		}
		c.mu.Unlock()
	}
	go c.Stop()
}

func (c *Controller) play(e turn.Entry) {
	if c.cfg.Player != nil {
		c.cfg.Player(e)
	}
}

func (c *Controller) transcript(text string, user bool) {
	if c.cfg.OnTranscript != nil {
		c.cfg.OnTranscript(text, user)
	}
}

func (c *Controller) report(err error) {
	if err == nil {
		return
	}
	c.logger.Warn("session event error", "error", err)
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

func snippet(text string) string {
	const max = 32
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
