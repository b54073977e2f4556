// Package session runs one live relay connection on the server: it reads
// client frames, commits user turns, streams model output back, and
// round-trips tool calls through the client.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pantryline/voicerelay/pkg/relay/audio"
	"github.com/pantryline/voicerelay/pkg/relay/protocol"
	"github.com/pantryline/voicerelay/pkg/server/model"
)

// maxTurnAudioMS caps how much spoken audio one turn may accumulate.
// Older audio is discarded first once the cap is reached.
const maxTurnAudioMS = 120_000

// Config carries the per-connection settings the handler resolved.
type Config struct {
	Provider     model.Provider
	SystemPrompt string
	Tools        []model.ToolDecl

	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	MaxAudioFPS         int
	MaxAudioBPS         int64
	InboundBurstSeconds int

	PingInterval  time.Duration
	WriteTimeout  time.Duration
	ToolTimeout   time.Duration
	MaxDuration   time.Duration
	SilenceCommit time.Duration

	// Now is the session clock. Nil means time.Now.
	Now func() time.Time
}

// Session is one live connection's server half.
type Session struct {
	cfg    Config
	logger *slog.Logger
	conn   *websocket.Conn
	id     string
	now    func() time.Time

	priority chan outboundFrame
	normal   chan outboundFrame
	turns    chan model.Message

	pendingMu sync.Mutex
	pending   map[string]chan protocol.ToolResponseMessage

	capture *audio.CaptureBuffer

	timerMu     sync.Mutex
	commitTimer *time.Timer

	history []model.Message
}

// New wraps an upgraded connection. Call Run to serve it.
func New(cfg Config, conn *websocket.Conn, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	return &Session{
		cfg:      cfg,
		logger:   logger.With("session_id", id),
		conn:     conn,
		id:       id,
		now:      now,
		capture:  audio.NewCaptureBuffer(audio.DefaultCaptureFormat(), maxTurnAudioMS),
		priority: make(chan outboundFrame, 64),
		normal:   make(chan outboundFrame, 256),
		turns:    make(chan model.Message, 8),
		pending:  make(map[string]chan protocol.ToolResponseMessage),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Notify pushes an out-of-band error frame to the client, used for
// shutdown warnings. Non-blocking; a full priority queue drops it.
func (s *Session) Notify(message string) error {
	payload, err := json.Marshal(protocol.NewError(message))
	if err != nil {
		return err
	}
	select {
	case s.priority <- outboundFrame{payload: payload}:
		return nil
	default:
		return fmt.Errorf("notify dropped: outbound queue full")
	}
}

// Run serves the connection until the client disconnects, the context is
// cancelled, or the session duration limit is reached.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.cfg.MaxDuration > 0 {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithTimeout(ctx, s.cfg.MaxDuration)
		defer cancelDeadline()
	}

	writer := &outboundWriter{
		ws:           s.conn,
		done:         ctx.Done(),
		priority:     s.priority,
		normal:       s.normal,
		pingInterval: s.cfg.PingInterval,
		writeTimeout: s.cfg.WriteTimeout,
	}

	errc := make(chan error, 3)
	go func() { errc <- writer.Run() }()
	go func() { errc <- s.readLoop(ctx) }()
	go func() { errc <- s.turnLoop(ctx) }()

	var firstErr error
	select {
	case firstErr = <-errc:
	case <-ctx.Done():
	}
	cancel()
	s.stopCommitTimer()
	s.failPending("session closed")
	s.logger.Info("session ended", "error", firstErr)
	return firstErr
}

func (s *Session) readLoop(ctx context.Context) error {
	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	limiter := newInboundAudioLimiter(s.now, s.cfg.MaxAudioFPS, s.cfg.MaxAudioBPS, s.cfg.InboundBurstSeconds)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			s.sendError(ctx, err.Error())
			continue
		}

		switch m := msg.(type) {
		case protocol.AudioMessage:
			pcm, err := base64.StdEncoding.DecodeString(m.Audio)
			if err != nil {
				s.sendError(ctx, "invalid base64 audio payload")
				continue
			}
			if s.cfg.MaxAudioFrameBytes > 0 && len(pcm) > s.cfg.MaxAudioFrameBytes {
				s.sendError(ctx, fmt.Sprintf("audio frame exceeds %d bytes", s.cfg.MaxAudioFrameBytes))
				continue
			}
			if !limiter.Allow(len(pcm)) {
				// Over rate: drop the frame, keep the session.
				continue
			}
			s.bufferAudio(pcm, m.MimeType)
		case protocol.UserMessage:
			s.commitTurn(model.Message{Role: model.RoleUser, Text: m.Text})
		case protocol.ToolResponseMessage:
			s.deliverToolResponse(m)
		}
	}
}

// bufferAudio appends a captured frame and re-arms the silence commit
// timer. A pause in incoming audio ends the user's spoken turn.
func (s *Session) bufferAudio(pcm []byte, mimeType string) {
	commitAfter := s.cfg.SilenceCommit
	if commitAfter <= 0 {
		commitAfter = 600 * time.Millisecond
	}

	s.capture.Write(pcm)

	s.timerMu.Lock()
	if s.commitTimer != nil {
		s.commitTimer.Stop()
	}
	s.commitTimer = time.AfterFunc(commitAfter, func() { s.commitAudio(mimeType) })
	s.timerMu.Unlock()
}

func (s *Session) commitAudio(mimeType string) {
	pcm := s.capture.Drain()
	if len(pcm) == 0 {
		return
	}
	if mimeType == "" {
		mimeType = protocol.MimePCM16k
	}
	s.commitTurn(model.Message{Role: model.RoleUser, AudioPCM: pcm, MimeType: mimeType})
}

func (s *Session) stopCommitTimer() {
	s.timerMu.Lock()
	if s.commitTimer != nil {
		s.commitTimer.Stop()
	}
	s.timerMu.Unlock()
}

func (s *Session) commitTurn(msg model.Message) {
	select {
	case s.turns <- msg:
	default:
		s.logger.Warn("turn queue full, dropping user message")
	}
}

// turnLoop serializes assistant turns: one model stream at a time, tool
// round trips included.
func (s *Session) turnLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.turns:
			s.history = append(s.history, msg)
			if err := s.runTurn(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.sendError(ctx, err.Error())
			}
			s.sendPriorityJSON(ctx, protocol.NewDone())
		}
	}
}

// runTurn streams model output, relaying deltas as they arrive. Tool calls
// are forwarded to the client; the turn continues with their results until
// the model finishes without requesting tools.
func (s *Session) runTurn(ctx context.Context) error {
	for {
		var (
			assistantText string
			calls         []model.ToolCall
		)
		err := s.cfg.Provider.StreamTurn(ctx, model.TurnRequest{
			System:  s.cfg.SystemPrompt,
			History: s.history,
			Tools:   s.cfg.Tools,
		}, func(ev model.Event) error {
			switch ev.Type {
			case model.EventTextDelta:
				assistantText += ev.Text
				return s.sendNormalJSON(ctx, protocol.NewDelta(ev.Text))
			case model.EventToolCall:
				calls = append(calls, *ev.Call)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if assistantText != "" {
			s.history = append(s.history, model.Message{Role: model.RoleAssistant, Text: assistantText})
		}
		if len(calls) == 0 {
			return nil
		}

		results, err := s.dispatchToolCalls(ctx, calls)
		if err != nil {
			return err
		}
		for i, call := range calls {
			call := call
			s.history = append(s.history, model.Message{Role: model.RoleAssistant, Call: &call})
			s.history = append(s.history, model.Message{Role: model.RoleTool, Result: &results[i]})
		}
	}
}

// dispatchToolCalls sends each call to the client and waits for all
// responses. A call that does not answer within the tool timeout gets a
// timeout error result so the turn can continue.
func (s *Session) dispatchToolCalls(ctx context.Context, calls []model.ToolCall) ([]model.ToolResult, error) {
	waiters := make([]chan protocol.ToolResponseMessage, len(calls))
	for i, call := range calls {
		ch := make(chan protocol.ToolResponseMessage, 1)
		waiters[i] = ch
		s.pendingMu.Lock()
		s.pending[call.ID] = ch
		s.pendingMu.Unlock()

		if err := s.sendPriorityJSON(ctx, protocol.NewToolCall(call.ID, call.Name, call.Args)); err != nil {
			return nil, err
		}
	}

	timeout := s.cfg.ToolTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// One deadline shared by the whole batch. The context stays expired, so
	// every call past the deadline resolves immediately instead of waiting
	// on a timer that can only fire once.
	waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
	defer cancelWait()

	results := make([]model.ToolResult, len(calls))
	for i, call := range calls {
		select {
		case resp := <-waiters[i]:
			results[i] = model.ToolResult{ID: resp.ID, Name: resp.Name, Response: resp.Response}
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A response that beat the deadline may still be buffered.
			select {
			case resp := <-waiters[i]:
				results[i] = model.ToolResult{ID: resp.ID, Name: resp.Name, Response: resp.Response}
			default:
				results[i] = model.ToolResult{ID: call.ID, Name: call.Name,
					Response: map[string]any{"error": "tool call timed out"}}
			}
		}
		s.pendingMu.Lock()
		delete(s.pending, call.ID)
		s.pendingMu.Unlock()
	}
	return results, nil
}

func (s *Session) deliverToolResponse(resp protocol.ToolResponseMessage) {
	s.pendingMu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.pendingMu.Unlock()
	if !ok {
		s.logger.Warn("tool response for unknown call", "call_id", resp.ID, "tool", resp.Name)
		return
	}
	ch <- resp
}

func (s *Session) failPending(reason string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		select {
		case ch <- protocol.NewToolResponse(id, "", map[string]any{"error": reason}):
		default:
		}
		delete(s.pending, id)
	}
}

func (s *Session) sendError(ctx context.Context, message string) {
	s.sendPriorityJSON(ctx, protocol.NewError(message))
}

func (s *Session) sendPriorityJSON(ctx context.Context, v any) error {
	return sendJSON(ctx, s.priority, v)
}

func (s *Session) sendNormalJSON(ctx context.Context, v any) error {
	return sendJSON(ctx, s.normal, v)
}

func sendJSON(ctx context.Context, ch chan<- outboundFrame, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case ch <- outboundFrame{payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
