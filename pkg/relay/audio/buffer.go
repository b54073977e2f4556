package audio

import (
	"sync"
)

// Format describes the PCM shape of a capture or playback stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultCaptureFormat is the negotiated microphone format.
func DefaultCaptureFormat() Format {
	return Format{SampleRate: 16000, Channels: 1}
}

// DefaultPlaybackFormat is the negotiated synthesized-audio format.
func DefaultPlaybackFormat() Format {
	return Format{SampleRate: 24000, Channels: 1}
}

// BytesForDuration returns the PCM16 byte count for durationMS of audio.
func (f Format) BytesForDuration(durationMS int) int {
	return f.SampleRate * f.Channels * 2 * durationMS / 1000
}

// DurationMS returns the playable length of n PCM16 bytes.
func (f Format) DurationMS(n int) int {
	denom := f.SampleRate * f.Channels * 2
	if denom == 0 {
		return 0
	}
	return n * 1000 / denom
}

// CaptureBuffer accumulates PCM chunks with a bounded maximum size.
// When full it discards the oldest data so the newest audio is kept.
type CaptureBuffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	format   Format
}

// NewCaptureBuffer creates a buffer holding up to maxDurationMS of audio.
func NewCaptureBuffer(format Format, maxDurationMS int) *CaptureBuffer {
	maxBytes := format.BytesForDuration(maxDurationMS)
	return &CaptureBuffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		format:   format,
	}
}

// Write appends audio data, trimming from the front past the size cap.
func (b *CaptureBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)
	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Read returns a copy of all buffered audio.
func (b *CaptureBuffer) Read() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Drain returns all buffered audio and empties the buffer in one step.
func (b *CaptureBuffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// Len returns the current size in bytes.
func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMS returns the current buffered duration.
func (b *CaptureBuffer) DurationMS() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format.DurationMS(len(b.data))
}

// Clear empties the buffer.
func (b *CaptureBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// RMSEnergy calculates the RMS energy of the buffered audio.
func (b *CaptureBuffer) RMSEnergy() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return RMSEnergy(b.data)
}

// RingBuffer is a fixed-size circular pre-roll buffer. It overwrites the
// oldest audio when full, so Read always yields the most recent window.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	size     int
	writePos int
	filled   int
}

// NewRingBuffer creates a ring holding exactly durationMS of audio.
func NewRingBuffer(format Format, durationMS int) *RingBuffer {
	size := format.BytesForDuration(durationMS)
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write adds data, overwriting old audio if necessary.
func (r *RingBuffer) Write(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range data {
		r.data[r.writePos] = b
		r.writePos = (r.writePos + 1) % r.size
		if r.filled < r.size {
			r.filled++
		}
	}
}

// Read returns the buffered audio in chronological order.
func (r *RingBuffer) Read() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled < r.size {
		out := make([]byte, r.filled)
		copy(out, r.data[:r.filled])
		return out
	}
	out := make([]byte, r.size)
	first := r.size - r.writePos
	copy(out[:first], r.data[r.writePos:])
	copy(out[first:], r.data[:r.writePos])
	return out
}

// Clear resets the ring.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.filled = 0
}

// Filled returns how many bytes have been written, capped at the size.
func (r *RingBuffer) Filled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}
