package turn

import (
	"context"
	"sync"

	"github.com/pantryline/voicerelay/pkg/relay/audio"
)

// Synthesizer turns a sentence of text into playable audio. Implementations
// may take arbitrarily long; the sequencer runs calls concurrently and
// restores emission order before playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Buffer, error)
}

// SynthesizerFunc adapts a function to the Synthesizer interface.
type SynthesizerFunc func(ctx context.Context, text string) (audio.Buffer, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) (audio.Buffer, error) {
	return f(ctx, text)
}

// Callbacks receive sequencer output. Nil fields are skipped. Callbacks are
// invoked from sequencer goroutines and must not call back into the
// sequencer.
type Callbacks struct {
	OnTranscript     func(text string)
	OnTurnComplete   func()
	OnSynthesisError func(text string, err error)
}

type synthResult struct {
	buf audio.Buffer
	err error
}

// Sequencer accumulates assistant text deltas, flushes complete sentences to
// the synthesizer, and schedules the synthesized audio on the playback queue
// in the order the sentences were flushed. Out-of-order synthesis
// completions are held until every earlier sentence has been scheduled, so a
// slow early sentence never plays after a fast later one. A failed synthesis
// is reported and skipped; later sentences still play.
type Sequencer struct {
	synth Synthesizer
	queue *PlaybackQueue
	cb    Callbacks

	buf SpokenBuffer

	mu      sync.Mutex
	nextSeq int64
	nextOut int64
	pending map[int64]synthResult
	texts   map[int64]string

	// schedMu serializes drain-and-schedule so scheduling order cannot
	// depend on which completion goroutine runs first.
	schedMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSequencer creates a sequencer feeding the given queue. The context
// bounds all in-flight synthesis; cancelling it abandons unscheduled audio.
func NewSequencer(ctx context.Context, synth Synthesizer, queue *PlaybackQueue, cb Callbacks) *Sequencer {
	ctx, cancel := context.WithCancel(ctx)
	return &Sequencer{
		synth:   synth,
		queue:   queue,
		cb:      cb,
		pending: make(map[int64]synthResult),
		texts:   make(map[int64]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// HandleDelta appends a text delta. If the accumulated text now ends at a
// sentence boundary the whole buffer is flushed as one synthesis unit.
func (s *Sequencer) HandleDelta(text string) {
	if flushed, ok := s.buf.Append(text); ok {
		s.emit(flushed)
	}
}

// HandleEndOfTurn flushes any buffered remainder as a final synthesis unit,
// then signals turn completion. Safe to call with an empty buffer.
func (s *Sequencer) HandleEndOfTurn() {
	if flushed, ok := s.buf.Flush(); ok {
		s.emit(flushed)
	}
	if s.cb.OnTurnComplete != nil {
		s.cb.OnTurnComplete()
	}
}

// emit assigns the next sequence number and starts synthesis.
func (s *Sequencer) emit(text string) {
	if s.cb.OnTranscript != nil {
		s.cb.OnTranscript(text)
	}

	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	s.texts[seq] = text
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf, err := s.synth.Synthesize(s.ctx, text)
		s.complete(seq, synthResult{buf: buf, err: err})
	}()
}

// complete records a finished synthesis and schedules every contiguous
// result starting at the lowest outstanding sequence number. The whole
// drain runs under schedMu: a completion that arrives while an earlier
// drain is still scheduling waits its turn instead of overtaking it.
func (s *Sequencer) complete(seq int64, res synthResult) {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	s.mu.Lock()
	s.pending[seq] = res

	type ready struct {
		text string
		res  synthResult
	}
	var due []ready
	for {
		r, ok := s.pending[s.nextOut]
		if !ok {
			break
		}
		delete(s.pending, s.nextOut)
		text := s.texts[s.nextOut]
		delete(s.texts, s.nextOut)
		due = append(due, ready{text: text, res: r})
		s.nextOut++
	}
	s.mu.Unlock()

	for _, d := range due {
		if d.res.err != nil {
			if s.cb.OnSynthesisError != nil {
				s.cb.OnSynthesisError(d.text, d.res.err)
			}
			continue
		}
		if _, err := s.queue.Schedule(d.res.buf); err != nil {
			return
		}
	}
}

// Reset discards buffered text and abandons in-flight synthesis results for
// the current turn without closing the sequencer.
func (s *Sequencer) Reset() {
	s.buf.Reset()
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	s.mu.Lock()
	s.nextOut = s.nextSeq
	s.pending = make(map[int64]synthResult)
	s.texts = make(map[int64]string)
	s.mu.Unlock()
}

// Close cancels in-flight synthesis and waits for workers to exit.
// Idempotent.
func (s *Sequencer) Close() {
	s.cancel()
	s.wg.Wait()
}
