// Command relayd serves the voice relay: it bridges live WebSocket
// sessions to the Gemini streaming API and round-trips inventory tool
// calls through the connected client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pantryline/voicerelay/internal/dotenv"
	"github.com/pantryline/voicerelay/pkg/server"
	"github.com/pantryline/voicerelay/pkg/server/config"
	"github.com/pantryline/voicerelay/pkg/server/model"
)

type relayDeps struct {
	loadConfig   func() (config.Config, error)
	newProvider  func(ctx context.Context, cfg config.Config) (model.Provider, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultRelayDeps() relayDeps {
	return relayDeps{
		loadConfig: config.LoadFromEnv,
		newProvider: func(ctx context.Context, cfg config.Config) (model.Provider, error) {
			if cfg.GeminiAPIKey == "" {
				return nil, errors.New("GEMINI_API_KEY is not set")
			}
			return model.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// inventoryTools are the host-side actions the model may request. The
// handlers live in the connected client; the server only declares them.
func inventoryTools() []model.ToolDecl {
	return []model.ToolDecl{
		{
			Name:        "add_inventory_item",
			Description: "Add a grocery item to the household inventory.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string", "description": "Item name"},
					"quantity": map[string]any{"type": "number", "description": "Amount to add"},
					"unit":     map[string]any{"type": "string", "description": "Unit, for example pieces or grams"},
				},
				"required": []any{"name"},
			},
		},
		{
			Name:        "remove_inventory_item",
			Description: "Remove or decrement a grocery item from the inventory.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string", "description": "Item name"},
					"quantity": map[string]any{"type": "number", "description": "Amount to remove; omit to remove all"},
				},
				"required": []any{"name"},
			},
		},
		{
			Name:        "list_inventory",
			Description: "List the current inventory, optionally filtered by category.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{"type": "string", "description": "Optional category filter"},
				},
			},
		},
		{
			Name:        "add_shopping_list_item",
			Description: "Put an item on the shared shopping list.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string", "description": "Item name"},
					"quantity": map[string]any{"type": "number", "description": "Amount to buy"},
				},
				"required": []any{"name"},
			},
		},
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runRelay(ctx context.Context, logger *slog.Logger, deps relayDeps) error {
	if deps.loadConfig == nil || deps.newProvider == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	provider, err := deps.newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create model provider: %w", err)
	}
	defer provider.Close()

	srv := server.New(cfg, provider, inventoryTools(), logger)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting relay", "addr", cfg.Addr, "model", cfg.Model)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.Sessions().NotifyAll("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.Sessions().Wait(waitCtx) {
		srv.Sessions().CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("relay stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps relayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "relayd: %v\n", err)
		return 1
	}

	if err := runRelay(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "relayd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRelayDeps()))
}
