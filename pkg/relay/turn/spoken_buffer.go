// Package turn converts streamed text deltas into ordered speech: it
// accumulates partial text, flushes at sentence boundaries, and serializes
// synthesized playback so chunks are heard in emission order.
package turn

import (
	"strings"
	"sync"
	"unicode"
)

// SpokenBuffer accumulates text deltas for one speaker channel and flushes
// whole sentences. Flushing is atomic with respect to appends: no delta is
// both included in a flush and retained for the next one.
type SpokenBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

// Append adds a delta and, if the buffer now ends at a sentence boundary,
// returns the full buffered text and clears the buffer.
func (b *SpokenBuffer) Append(delta string) (string, bool) {
	if delta == "" {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.WriteString(delta)
	content := b.buf.String()
	if !endsAtSentenceBoundary(content) {
		return "", false
	}
	b.buf.Reset()
	flushed := strings.TrimSpace(content)
	if flushed == "" {
		return "", false
	}
	return flushed, true
}

// Flush returns any remaining text (whitespace-trimmed) and clears the
// buffer. Used at end of turn.
func (b *SpokenBuffer) Flush() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	if content == "" {
		return "", false
	}
	return content, true
}

// Reset discards buffered text without flushing.
func (b *SpokenBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// Len returns the buffered byte count.
func (b *SpokenBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// endsAtSentenceBoundary reports whether the text ends with a
// sentence-terminal mark (. ! ?), optionally followed by whitespace.
func endsAtSentenceBoundary(text string) bool {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}
