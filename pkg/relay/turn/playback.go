package turn

import (
	"sync"
	"time"

	"github.com/pantryline/voicerelay/pkg/relay"
	"github.com/pantryline/voicerelay/pkg/relay/audio"
)

// Entry is a buffer scheduled on the playback timeline.
type Entry struct {
	Seq     int64
	Buffer  audio.Buffer
	StartAt time.Duration
}

// Duration returns the play length of the entry's audio.
func (e Entry) Duration() time.Duration {
	if e.Buffer.SampleRate <= 0 || len(e.Buffer.Channels) == 0 {
		return 0
	}
	frames := len(e.Buffer.Channels[0])
	return time.Duration(frames) * time.Second / time.Duration(e.Buffer.SampleRate)
}

// PlaybackQueue assigns non-decreasing start times to audio buffers in the
// order they are scheduled. Each buffer starts at the later of the playback
// clock's current position and the previous buffer's end, so scheduling
// order alone determines listening order.
type PlaybackQueue struct {
	mu      sync.Mutex
	now     func() time.Duration
	nextSeq int64
	horizon time.Duration
	onPlay  func(Entry)
	stopped bool
}

// NewPlaybackQueue creates a queue driven by the given playback clock. now
// reports the current position on the output timeline; onPlay receives each
// scheduled entry and may block only as long as the caller tolerates.
func NewPlaybackQueue(now func() time.Duration, onPlay func(Entry)) *PlaybackQueue {
	return &PlaybackQueue{now: now, onPlay: onPlay}
}

// Schedule places buf at the next free slot on the timeline and hands the
// resulting entry to the play callback. Returns a closed error after Stop.
func (q *PlaybackQueue) Schedule(buf audio.Buffer) (Entry, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return Entry{}, relay.NewClosedError("playback queue stopped")
	}
	start := q.now()
	if q.horizon > start {
		start = q.horizon
	}
	e := Entry{Seq: q.nextSeq, Buffer: buf, StartAt: start}
	q.nextSeq++
	q.horizon = start + e.Duration()
	onPlay := q.onPlay
	q.mu.Unlock()

	if onPlay != nil {
		onPlay(e)
	}
	return e, nil
}

// Horizon returns the end time of the last scheduled buffer.
func (q *PlaybackQueue) Horizon() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.horizon
}

// Stop rejects further scheduling. Idempotent.
func (q *PlaybackQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}

// Reset clears the timeline horizon so the next entry starts at the clock's
// current position. Used when a turn is cancelled.
func (q *PlaybackQueue) Reset() {
	q.mu.Lock()
	q.horizon = 0
	q.mu.Unlock()
}
