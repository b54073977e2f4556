// Package tools routes model-issued tool calls to host handlers and
// guarantees exactly one response per call, whatever the handler does.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/pantryline/voicerelay/pkg/relay"
	"github.com/pantryline/voicerelay/pkg/relay/protocol"
)

// Handler executes one tool call. The returned map becomes the response
// payload; a non-nil error is converted into an error payload instead.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Responder delivers a finished tool response back to the model side.
type Responder func(resp protocol.ToolResponseMessage)

// Bridge dispatches incoming tool calls to registered handlers. Calls run
// concurrently; each produces exactly one response: the handler's result, an
// error payload when the handler fails or panics, or an unknown-tool error
// when no handler matches. Duplicate call ids are dropped.
type Bridge struct {
	mu       sync.Mutex
	handlers map[string]Handler
	inflight map[string]struct{}
	closed   bool

	respond Responder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a bridge that sends responses through respond. The
// context bounds every handler invocation.
func NewBridge(ctx context.Context, respond Responder) *Bridge {
	ctx, cancel := context.WithCancel(ctx)
	return &Bridge{
		handlers: make(map[string]Handler),
		inflight: make(map[string]struct{}),
		respond:  respond,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register binds a handler to a tool name, replacing any previous binding.
func (b *Bridge) Register(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

// Names returns the registered tool names.
func (b *Bridge) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.handlers))
	for n := range b.handlers {
		names = append(names, n)
	}
	return names
}

// Dispatch starts handling a tool call in its own goroutine. It returns
// immediately; the response is delivered through the bridge's responder.
func (b *Bridge) Dispatch(call protocol.ToolCallMessage) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if _, dup := b.inflight[call.ID]; dup {
		b.mu.Unlock()
		return
	}
	b.inflight[call.ID] = struct{}{}
	h := b.handlers[call.Name]
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			delete(b.inflight, call.ID)
			b.mu.Unlock()
		}()
		b.respond(b.run(call, h))
	}()
}

// run executes the handler and folds every outcome into a single response.
func (b *Bridge) run(call protocol.ToolCallMessage, h Handler) protocol.ToolResponseMessage {
	if h == nil {
		err := relay.NewUnknownToolError(call.Name)
		return protocol.NewToolResponse(call.ID, call.Name, errorPayload(err))
	}

	var (
		result map[string]any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = relay.NewToolExecutionError(
					fmt.Sprintf("tool %q panicked: %v", call.Name, r), nil)
			}
		}()
		result, err = h(b.ctx, call.Args)
	}()

	if err != nil {
		if _, ok := err.(*relay.Error); !ok {
			err = relay.NewToolExecutionError(
				fmt.Sprintf("tool %q failed", call.Name), err)
		}
		return protocol.NewToolResponse(call.ID, call.Name, errorPayload(err))
	}
	if result == nil {
		result = map[string]any{}
	}
	return protocol.NewToolResponse(call.ID, call.Name, result)
}

func errorPayload(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// Close cancels running handlers and waits for their responses to drain.
// Idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
