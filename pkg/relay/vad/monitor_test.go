package vad

import (
	"testing"
	"time"
)

func loudPCM() []byte {
	pcm := make([]byte, 320)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x00
		pcm[i+1] = 0x40 // ~0.5 amplitude
	}
	return pcm
}

func quietPCM() []byte {
	return make([]byte, 320)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor(cfg Config) (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	return NewMonitor(cfg, clock.now), clock
}

func TestMonitorStateTransitions(t *testing.T) {
	m, clock := newTestMonitor(DefaultConfig())

	if m.State() != Idle {
		t.Fatalf("initial state = %v, want idle", m.State())
	}

	m.ObserveInput(loudPCM())
	if m.State() != Listening {
		t.Errorf("after loud input: %v, want listening", m.State())
	}

	// Assistant output dominates input.
	m.ObserveOutput(loudPCM())
	if m.State() != Speaking {
		t.Errorf("after loud output: %v, want speaking", m.State())
	}

	// Past the output hold with quiet on both sides: back to idle.
	clock.advance(time.Second)
	m.ObserveInput(quietPCM())
	if m.State() != Idle {
		t.Errorf("after silence: %v, want idle", m.State())
	}
}

func TestMonitorOutputHoldBridgesGaps(t *testing.T) {
	cfg := DefaultConfig()
	m, clock := newTestMonitor(cfg)

	m.ObserveOutput(loudPCM())
	clock.advance(cfg.OutputHold / 2)
	m.ObserveOutput(quietPCM())
	if m.State() != Speaking {
		t.Errorf("state flapped inside hold window: %v", m.State())
	}
}

func TestMonitorEndOfTurnHint(t *testing.T) {
	cfg := DefaultConfig()
	m, clock := newTestMonitor(cfg)

	hints := 0
	m.SetCallbacks(nil, func() { hints++ })

	// Quiet with no prior speech: no hint.
	m.ObserveInput(quietPCM())
	clock.advance(cfg.SilenceHint * 2)
	m.ObserveInput(quietPCM())
	if hints != 0 {
		t.Fatal("hint fired without prior speech")
	}

	// Speech then sustained silence: exactly one hint.
	m.ObserveInput(loudPCM())
	clock.advance(cfg.SilenceHint + time.Millisecond)
	m.ObserveInput(quietPCM())
	if hints != 1 {
		t.Fatalf("hints = %d, want 1", hints)
	}
	clock.advance(cfg.SilenceHint)
	m.ObserveInput(quietPCM())
	if hints != 1 {
		t.Fatalf("hint re-fired: %d", hints)
	}

	// New speech re-arms the hint.
	m.ObserveInput(loudPCM())
	clock.advance(cfg.SilenceHint + time.Millisecond)
	m.ObserveInput(quietPCM())
	if hints != 2 {
		t.Fatalf("hints = %d, want 2 after new speech", hints)
	}
}

func TestMonitorPeakCatchesShortTransient(t *testing.T) {
	cfg := DefaultConfig()
	// Tuned up for a noisy room: a short plosive has to get through on
	// its peak, not its window energy.
	cfg.InputThreshold = 0.05
	m, _ := newTestMonitor(cfg)

	transient := make([]byte, 640)
	transient[1] = 0x40 // one ~0.5 sample among 320
	m.ObserveInput(transient)
	if m.State() != Listening {
		t.Errorf("state = %v, want listening after transient", m.State())
	}

	m2, _ := newTestMonitor(cfg)
	soft := make([]byte, 640)
	soft[1] = 0x08 // one ~0.06 sample, under both thresholds
	m2.ObserveInput(soft)
	if m2.State() != Idle {
		t.Errorf("state = %v, want idle for sub-threshold blip", m2.State())
	}
}

func TestMonitorReset(t *testing.T) {
	m, clock := newTestMonitor(DefaultConfig())

	hints := 0
	m.SetCallbacks(nil, func() { hints++ })

	m.ObserveInput(loudPCM())
	m.Reset()
	if m.State() != Idle {
		t.Errorf("state after reset = %v, want idle", m.State())
	}

	clock.advance(DefaultConfig().SilenceHint * 2)
	m.ObserveInput(quietPCM())
	if hints != 0 {
		t.Error("hint fired after reset cleared speech history")
	}
}

func TestMonitorStateCallback(t *testing.T) {
	m, clock := newTestMonitor(DefaultConfig())

	var states []State
	m.SetCallbacks(func(s State) { states = append(states, s) }, nil)

	m.ObserveInput(loudPCM())
	m.ObserveInput(loudPCM()) // same state, no duplicate callback
	clock.advance(time.Second)
	m.ObserveInput(quietPCM())

	want := []State{Listening, Idle}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}
