package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pantryline/voicerelay/pkg/relay/audio"
)

// gatedSynth blocks each Synthesize call until its text is released, so
// tests control completion order.
type gatedSynth struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	errs  map[string]error
}

func newGatedSynth() *gatedSynth {
	return &gatedSynth{
		gates: make(map[string]chan struct{}),
		errs:  make(map[string]error),
	}
}

func (g *gatedSynth) gate(text string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[text]
	if !ok {
		ch = make(chan struct{})
		g.gates[text] = ch
	}
	return ch
}

func (g *gatedSynth) release(text string) { close(g.gate(text)) }

func (g *gatedSynth) fail(text string, err error) {
	g.mu.Lock()
	g.errs[text] = err
	g.mu.Unlock()
	g.release(text)
}

func (g *gatedSynth) Synthesize(ctx context.Context, text string) (audio.Buffer, error) {
	select {
	case <-g.gate(text):
	case <-ctx.Done():
		return audio.Buffer{}, ctx.Err()
	}
	g.mu.Lock()
	err := g.errs[text]
	g.mu.Unlock()
	if err != nil {
		return audio.Buffer{}, err
	}
	return monoBuffer(240, 24000), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSequencerSchedulesInEmissionOrder(t *testing.T) {
	synth := newGatedSynth()

	var mu sync.Mutex
	var played []int64
	queue := NewPlaybackQueue(func() time.Duration { return 0 }, func(e Entry) {
		mu.Lock()
		played = append(played, e.Seq)
		mu.Unlock()
	})

	var transcripts []string
	s := NewSequencer(context.Background(), synth, queue, Callbacks{
		OnTranscript: func(text string) { transcripts = append(transcripts, text) },
	})
	defer s.Close()

	s.HandleDelta("One.")
	s.HandleDelta("Two.")

	// The later sentence completes first; it must not play first.
	synth.release("Two.")
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	n := len(played)
	mu.Unlock()
	if n != 0 {
		t.Fatal("second sentence scheduled before the first completed")
	}

	synth.release("One.")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(played) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if played[0] != 0 || played[1] != 1 {
		t.Errorf("play order = %v, want [0 1]", played)
	}
	if len(transcripts) != 2 || transcripts[0] != "One." || transcripts[1] != "Two." {
		t.Errorf("transcripts = %v", transcripts)
	}
}

func TestSequencerSynthesisErrorIsSkipped(t *testing.T) {
	synth := newGatedSynth()

	var mu sync.Mutex
	var played []int64
	queue := NewPlaybackQueue(func() time.Duration { return 0 }, func(e Entry) {
		mu.Lock()
		played = append(played, e.Seq)
		mu.Unlock()
	})

	var failedText string
	s := NewSequencer(context.Background(), synth, queue, Callbacks{
		OnSynthesisError: func(text string, err error) {
			mu.Lock()
			failedText = text
			mu.Unlock()
		},
	})
	defer s.Close()

	s.HandleDelta("Bad.")
	s.HandleDelta("Good.")

	synth.fail("Bad.", errors.New("synthesis backend down"))
	synth.release("Good.")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(played) == 1 && failedText == "Bad."
	})

	mu.Lock()
	defer mu.Unlock()
	if played[0] != 1 {
		t.Errorf("surviving entry seq = %d, want 1", played[0])
	}
}

func TestSequencerDrainNotOvertakenByLaterCompletion(t *testing.T) {
	synth := newGatedSynth()
	thirdDone := make(chan struct{})
	wrapped := SynthesizerFunc(func(ctx context.Context, text string) (audio.Buffer, error) {
		buf, err := synth.Synthesize(ctx, text)
		if text == "Third." {
			close(thirdDone)
		}
		return buf, err
	})

	var mu sync.Mutex
	var played []int64
	queue := NewPlaybackQueue(func() time.Duration { return 0 }, func(e Entry) {
		mu.Lock()
		played = append(played, e.Seq)
		mu.Unlock()
	})

	s := NewSequencer(context.Background(), wrapped, queue, Callbacks{
		OnSynthesisError: func(string, error) {
			// Let the third sentence finish while the failed first one is
			// still being reported, so its completion races the drain that
			// has the second sentence left to schedule.
			synth.release("Third.")
			select {
			case <-thirdDone:
			case <-time.After(time.Second):
			}
			time.Sleep(20 * time.Millisecond)
		},
	})
	defer s.Close()

	s.HandleDelta("First.")
	s.HandleDelta("Second.")
	s.HandleDelta("Third.")

	synth.release("Second.")
	synth.fail("First.", errors.New("synthesis backend down"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(played) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if played[0] != 1 || played[1] != 2 {
		t.Errorf("play order = %v, want [1 2]", played)
	}
}

func TestSequencerEndOfTurnFlushesRemainder(t *testing.T) {
	synth := newGatedSynth()
	queue := NewPlaybackQueue(func() time.Duration { return 0 }, nil)

	var mu sync.Mutex
	var transcripts []string
	turnDone := false
	s := NewSequencer(context.Background(), synth, queue, Callbacks{
		OnTranscript: func(text string) {
			mu.Lock()
			transcripts = append(transcripts, text)
			mu.Unlock()
		},
		OnTurnComplete: func() {
			mu.Lock()
			turnDone = true
			mu.Unlock()
		},
	})
	defer s.Close()

	s.HandleDelta("no terminal here")
	s.HandleEndOfTurn()

	mu.Lock()
	if len(transcripts) != 1 || transcripts[0] != "no terminal here" {
		t.Errorf("transcripts = %v", transcripts)
	}
	if !turnDone {
		t.Error("turn completion not signaled")
	}
	mu.Unlock()

	synth.release("no terminal here")
}

func TestSequencerEndOfTurnWithEmptyBuffer(t *testing.T) {
	queue := NewPlaybackQueue(func() time.Duration { return 0 }, nil)
	done := 0
	s := NewSequencer(context.Background(), newGatedSynth(), queue, Callbacks{
		OnTurnComplete: func() { done++ },
	})
	defer s.Close()

	s.HandleEndOfTurn()
	if done != 1 {
		t.Fatalf("turn complete fired %d times, want 1", done)
	}
}

func TestSequencerCloseCancelsInFlight(t *testing.T) {
	synth := newGatedSynth()
	queue := NewPlaybackQueue(func() time.Duration { return 0 }, nil)
	s := NewSequencer(context.Background(), synth, queue, Callbacks{})

	s.HandleDelta("Never finishes.")

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return; in-flight synthesis not cancelled")
	}
}
