// Package transport maintains the persistent duplex connection to the relay
// server and frames the JSON wire messages that travel over it.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pantryline/voicerelay/pkg/relay"
	"github.com/pantryline/voicerelay/pkg/relay/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// Config configures a client connection.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the relay's live handler.
	URL string
	// Header carries extra handshake headers (for example Authorization).
	Header http.Header
	// ConnectTimeout bounds the dial when the context has no deadline.
	// Zero means a 15 second default.
	ConnectTimeout time.Duration
}

// Session is one live connection. Writes are serialized; reads are consumed
// through Messages in arrival order. Sessions do not reconnect: once the
// connection drops the session is dead and the caller opens a new one.
type Session struct {
	conn *websocket.Conn

	messages chan any
	closing  chan struct{}
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Open dials the relay server. A failed dial returns a connect error and no
// session; there is no retry.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, relay.NewConnectError("transport: empty URL", nil)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}
	conn, resp, err := dialer.DialContext(dialCtx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, relay.NewConnectError(
				fmt.Sprintf("transport: dial %s failed (status %d)", cfg.URL, resp.StatusCode), err)
		}
		return nil, relay.NewConnectError(fmt.Sprintf("transport: dial %s failed", cfg.URL), err)
	}

	s := &Session{
		conn:     conn,
		messages: make(chan any, 256),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Messages yields decoded server messages in arrival order. The channel is
// closed when the connection ends; check Err afterwards.
func (s *Session) Messages() <-chan any {
	return s.messages
}

// Done is closed when the read loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendAudio encodes a captured PCM16 chunk and sends it.
func (s *Session) SendAudio(b64 string, mimeType string) error {
	return s.sendJSON(protocol.NewAudioMessage(b64, mimeType))
}

// SendText sends a typed user utterance.
func (s *Session) SendText(text string) error {
	return s.sendJSON(protocol.NewUserMessage(text))
}

// SendToolResponse returns a tool result to the server.
func (s *Session) SendToolResponse(resp protocol.ToolResponseMessage) error {
	return s.sendJSON(resp)
}

func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return relay.NewNotConnectedError("transport: session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		return relay.NewNotConnectedError("transport: write failed")
	}
	return nil
}

// Close shuts the connection down. Safe to call multiple times and from any
// goroutine; it blocks until the read loop has exited.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error, if any. Blocks until the session
// has ended.
func (s *Session) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.messages)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if !s.closed.Load() {
				s.setErr(err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			// Malformed frames are skipped, not fatal.
			continue
		}
		// Delivery blocks when the consumer lags: backpressure reaches the
		// socket instead of losing frames, so a tool call never vanishes.
		// Close unblocks a stuck delivery.
		select {
		case s.messages <- msg:
		case <-s.closing:
			return
		}
	}
}
