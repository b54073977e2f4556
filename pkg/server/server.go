// Package server exposes the relay over HTTP: a WebSocket live endpoint
// plus health probes, with graceful drain on shutdown.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/pantryline/voicerelay/pkg/server/config"
	"github.com/pantryline/voicerelay/pkg/server/model"
	"github.com/pantryline/voicerelay/pkg/server/session"
	"github.com/pantryline/voicerelay/pkg/server/sessions"
)

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	mux      *http.ServeMux
	provider model.Provider
	tools    []model.ToolDecl
	tracker  *sessions.Tracker
}

func New(cfg config.Config, provider model.Provider, tools []model.ToolDecl, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		provider: provider,
		tools:    tools,
		tracker:  sessions.NewTracker(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/live", s.handleLive)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Sessions exposes the tracker for shutdown coordination.
func (s *Server) Sessions() *sessions.Tracker {
	return s.tracker
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := session.New(session.Config{
		Provider:            s.provider,
		SystemPrompt:        s.cfg.SystemPrompt,
		Tools:               s.tools,
		MaxAudioFrameBytes:  s.cfg.LiveMaxAudioFrameBytes,
		MaxJSONMessageBytes: s.cfg.LiveMaxJSONMessageBytes,
		MaxAudioFPS:         s.cfg.LiveMaxAudioFPS,
		MaxAudioBPS:         s.cfg.LiveMaxAudioBPS,
		InboundBurstSeconds: s.cfg.LiveInboundBurstSeconds,
		PingInterval:        s.cfg.LiveWSPingInterval,
		WriteTimeout:        s.cfg.LiveWSWriteTimeout,
		ToolTimeout:         s.cfg.LiveToolTimeout,
		MaxDuration:         s.cfg.WSMaxSessionDuration,
	}, conn, s.logger)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unregister := s.tracker.Register(sess.ID(), sessions.Handle{Cancel: cancel, Notify: sess.Notify})
	defer unregister()

	s.logger.Info("live session opened", "session_id", sess.ID(), "remote", r.RemoteAddr)
	if err := sess.Run(ctx); err != nil {
		s.logger.Warn("live session failed", "session_id", sess.ID(), "error", err)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.cfg.APIKeys) == 0 {
		return true
	}
	auth := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		// Browsers cannot set WS headers, so a query param is accepted too.
		token = strings.TrimSpace(r.URL.Query().Get("key"))
	}
	_, ok := s.cfg.APIKeys[token]
	return ok
}
