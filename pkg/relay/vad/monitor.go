// Package vad implements loudness-based voice activity monitoring over
// fixed windows of the live input and output streams.
package vad

import (
	"sync"
	"time"

	"github.com/pantryline/voicerelay/pkg/relay/audio"
)

// State is the coarse activity state shown to the UI.
type State int

const (
	// Idle: neither side is producing audio above threshold.
	Idle State = iota
	// Listening: the user is speaking and the assistant is quiet.
	Listening
	// Speaking: the assistant is producing audio.
	Speaking
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Config tunes the monitor thresholds and the end-of-turn heuristic.
type Config struct {
	// InputThreshold is the RMS level above which the mic counts as speech.
	InputThreshold float64
	// InputPeakThreshold catches short transients: a window whose peak
	// amplitude crosses it counts as speech even when plosives or taps
	// leave the RMS below InputThreshold.
	InputPeakThreshold float64
	// OutputThreshold is the RMS level above which playback counts as
	// assistant speech.
	OutputThreshold float64
	// OutputHold keeps Speaking asserted for this long after the last loud
	// output window, so brief inter-chunk gaps do not flap the state.
	OutputHold time.Duration
	// SilenceHint is how long the input must stay quiet, after having been
	// loud, before an end-of-turn hint fires. Zero disables hinting.
	SilenceHint time.Duration
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		InputThreshold:     0.015,
		InputPeakThreshold: 0.25,
		OutputThreshold:    0.01,
		OutputHold:         250 * time.Millisecond,
		SilenceHint:        700 * time.Millisecond,
	}
}

// Monitor recomputes the activity state on every observed window. The state
// is polled, not edge-triggered: it always reflects the latest measurement.
// The end-of-turn hint is a heuristic; the server stays the authority on
// true turn boundaries.
type Monitor struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	state         State
	lastLoudIn    time.Time
	lastLoudOut   time.Time
	heardSpeech   bool
	hintDelivered bool

	onState func(State)
	onHint  func()
}

// NewMonitor creates a monitor. A nil now falls back to time.Now.
func NewMonitor(cfg Config, now func() time.Time) *Monitor {
	if cfg.InputThreshold <= 0 {
		cfg.InputThreshold = DefaultConfig().InputThreshold
	}
	if cfg.InputPeakThreshold <= 0 {
		cfg.InputPeakThreshold = DefaultConfig().InputPeakThreshold
	}
	if cfg.OutputThreshold <= 0 {
		cfg.OutputThreshold = DefaultConfig().OutputThreshold
	}
	if cfg.OutputHold <= 0 {
		cfg.OutputHold = DefaultConfig().OutputHold
	}
	if now == nil {
		now = time.Now
	}
	return &Monitor{cfg: cfg, now: now, state: Idle}
}

// SetCallbacks registers the state-change and end-of-turn-hint callbacks.
// Both are invoked synchronously from Observe* calls.
func (m *Monitor) SetCallbacks(onState func(State), onHint func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = onState
	m.onHint = onHint
}

// State returns the most recently computed state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ObserveInput processes one window of captured PCM16 microphone audio.
func (m *Monitor) ObserveInput(pcm []byte) {
	level := audio.RMSEnergy(pcm)
	peak := audio.PeakAmplitude(pcm)
	m.mu.Lock()
	now := m.now()
	if level >= m.cfg.InputThreshold || peak >= m.cfg.InputPeakThreshold {
		m.lastLoudIn = now
		m.heardSpeech = true
		m.hintDelivered = false
	}
	m.recomputeLocked(now)
	hint := m.hintDueLocked(now)
	onHint := m.onHint
	m.mu.Unlock()

	if hint && onHint != nil {
		onHint()
	}
}

// ObserveOutput processes one window of PCM16 audio scheduled for playback.
func (m *Monitor) ObserveOutput(pcm []byte) {
	level := audio.RMSEnergy(pcm)
	m.mu.Lock()
	now := m.now()
	if level >= m.cfg.OutputThreshold {
		m.lastLoudOut = now
	}
	m.recomputeLocked(now)
	m.mu.Unlock()
}

// Reset clears speech history, e.g. when a new turn starts.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heardSpeech = false
	m.hintDelivered = false
	m.lastLoudIn = time.Time{}
	m.lastLoudOut = time.Time{}
	m.state = Idle
}

func (m *Monitor) recomputeLocked(now time.Time) {
	next := Idle
	outputActive := !m.lastLoudOut.IsZero() && now.Sub(m.lastLoudOut) <= m.cfg.OutputHold
	inputActive := !m.lastLoudIn.IsZero() && now.Sub(m.lastLoudIn) <= m.cfg.OutputHold
	switch {
	case outputActive:
		next = Speaking
	case inputActive:
		next = Listening
	}
	if next == m.state {
		return
	}
	m.state = next
	if m.onState != nil {
		// Invoked with the lock held; the callback must not re-enter the monitor.
		m.onState(next)
	}
}

func (m *Monitor) hintDueLocked(now time.Time) bool {
	if m.cfg.SilenceHint <= 0 || !m.heardSpeech || m.hintDelivered {
		return false
	}
	if m.lastLoudIn.IsZero() || now.Sub(m.lastLoudIn) < m.cfg.SilenceHint {
		return false
	}
	m.hintDelivered = true
	return true
}
