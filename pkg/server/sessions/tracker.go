// Package sessions tracks live connections so shutdown can cancel and
// drain them.
package sessions

import (
	"context"
	"sync"
)

// Handle exposes the operations the tracker may invoke on a live session.
type Handle struct {
	// Cancel asks the session to stop.
	Cancel func()
	// Notify sends an out-of-band message to the client, typically a
	// shutdown warning. May be nil.
	Notify func(message string) error
}

// Tracker registers live sessions and coordinates draining them.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*tracked)}
}

// Register adds a session under its id and returns its unregister func.
// Re-registering an id unregisters the previous entry first.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	entry := &tracked{handle: h}

	t.mu.Lock()
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}
	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *tracked) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// NotifyAll sends a message to every session that accepts notifications.
func (t *Tracker) NotifyAll(message string) (sent int) {
	var notifies []func(string) error
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Notify != nil {
			notifies = append(notifies, entry.handle.Notify)
		}
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		_ = notify(message)
		sent++
	}
	return sent
}

// CancelAll asks every tracked session to stop.
func (t *Tracker) CancelAll() (canceled int) {
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every session has unregistered or ctx expires. It
// reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
