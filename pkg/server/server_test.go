package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pantryline/voicerelay/pkg/server/config"
	"github.com/pantryline/voicerelay/pkg/server/model"
)

type noopProvider struct{}

func (noopProvider) StreamTurn(context.Context, model.TurnRequest, func(model.Event) error) error {
	return nil
}

func (noopProvider) Close() error { return nil }

func testServer(cfg config.Config) *Server {
	if cfg.LiveWSPingInterval == 0 {
		cfg.LiveWSPingInterval = time.Hour
	}
	if cfg.LiveWSWriteTimeout == 0 {
		cfg.LiveWSWriteTimeout = time.Second
	}
	if cfg.WSMaxSessionDuration == 0 {
		cfg.WSMaxSessionDuration = time.Minute
	}
	return New(cfg, noopProvider{}, nil, nil)
}

func TestHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer(config.Config{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok\n" {
		t.Errorf("body = %q", body)
	}
}

func TestLiveRejectsNonGet(t *testing.T) {
	srv := httptest.NewServer(testServer(config.Config{}).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/live", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /live: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestLiveAuth(t *testing.T) {
	cfg := config.Config{APIKeys: map[string]struct{}{"good-key": {}}}
	srv := httptest.NewServer(testServer(cfg).Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live"

	// No key: rejected before upgrade.
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without key succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}

	// Bearer header accepted.
	header := http.Header{}
	header.Set("Authorization", "Bearer good-key")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with key: %v", err)
	}
	conn.Close()

	// Query parameter accepted for browser clients.
	conn, _, err = websocket.DefaultDialer.Dial(url+"?key=good-key", nil)
	if err != nil {
		t.Fatalf("dial with query key: %v", err)
	}
	conn.Close()
}

func TestLiveSessionTracked(t *testing.T) {
	s := testServer(config.Config{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Sessions().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Sessions().Count() != 1 {
		t.Fatalf("tracked sessions = %d, want 1", s.Sessions().Count())
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for s.Sessions().Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Sessions().Count() != 0 {
		t.Errorf("session not untracked after close")
	}
}
