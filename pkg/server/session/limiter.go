package session

import "time"

// bucket is one token budget: rate tokens per second, capped at the burst
// size. A zero rate disables the bucket.
type bucket struct {
	rate   int64
	tokens int64
	limit  int64
}

func newBucket(rate, burstSeconds int64) bucket {
	if rate <= 0 {
		return bucket{}
	}
	limit := rate * burstSeconds
	return bucket{rate: rate, tokens: limit, limit: limit}
}

func (b *bucket) refill(elapsed time.Duration) {
	if b.rate <= 0 {
		return
	}
	add := elapsed.Nanoseconds() * b.rate / int64(time.Second)
	if add <= 0 {
		return
	}
	b.tokens += add
	if b.tokens > b.limit {
		b.tokens = b.limit
	}
}

// inboundAudioLimiter rate-limits incoming audio two ways at once: frames
// per second and decoded bytes per second. A frame passes only when both
// budgets have room, and a denied frame consumes nothing. A nil limiter
// allows everything.
type inboundAudioLimiter struct {
	now        func() time.Time
	frames     bucket
	bytes      bucket
	lastRefill time.Time
}

func newInboundAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundAudioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	return &inboundAudioLimiter{
		now:        now,
		frames:     newBucket(int64(fps), int64(burstSeconds)),
		bytes:      newBucket(bps, int64(burstSeconds)),
		lastRefill: now(),
	}
}

func (l *inboundAudioLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	if frameBytes < 0 {
		frameBytes = 0
	}

	now := l.now()
	if elapsed := now.Sub(l.lastRefill); elapsed > 0 {
		l.frames.refill(elapsed)
		l.bytes.refill(elapsed)
	}
	l.lastRefill = now

	// Check both budgets before taking from either, so a frame denied on
	// bytes does not burn a frame token.
	if l.frames.rate > 0 && l.frames.tokens < 1 {
		return false
	}
	if l.bytes.rate > 0 && l.bytes.tokens < int64(frameBytes) {
		return false
	}
	if l.frames.rate > 0 {
		l.frames.tokens--
	}
	if l.bytes.rate > 0 {
		l.bytes.tokens -= int64(frameBytes)
	}
	return true
}
