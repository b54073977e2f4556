package session

import (
	"testing"
	"time"
)

func limiterClock() (func() time.Time, func(time.Duration)) {
	now := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return now },
		func(d time.Duration) { now = now.Add(d) }
}

func TestInboundLimiterSteadyRatePasses(t *testing.T) {
	clock, advance := limiterClock()
	lim := newInboundAudioLimiter(clock, 50, 0, 1)

	// A well-behaved client at exactly 50 fps never gets denied, no
	// matter how long it runs.
	for i := 0; i < 200; i++ {
		if !lim.Allow(640) {
			t.Fatalf("steady sender denied at frame %d", i)
		}
		advance(20 * time.Millisecond)
	}
}

func TestInboundLimiterFloodDrainsThenRecovers(t *testing.T) {
	clock, advance := limiterClock()
	lim := newInboundAudioLimiter(clock, 50, 0, 2)

	allowed := 0
	for i := 0; i < 500; i++ {
		if lim.Allow(640) {
			allowed++
		}
	}
	if allowed != 100 {
		t.Fatalf("flood passed %d frames, want the 2s burst of 100", allowed)
	}

	advance(time.Second)
	allowed = 0
	for i := 0; i < 500; i++ {
		if lim.Allow(640) {
			allowed++
		}
	}
	if allowed != 50 {
		t.Fatalf("after 1s idle passed %d frames, want 50", allowed)
	}
}

func TestInboundLimiterByteDenialKeepsFrameToken(t *testing.T) {
	clock, _ := limiterClock()
	lim := newInboundAudioLimiter(clock, 1, 100, 1)

	// The oversized frame fails the byte budget; the single frame token
	// must survive for the next, well-sized frame.
	if lim.Allow(500) {
		t.Fatal("oversized frame passed the byte budget")
	}
	if !lim.Allow(80) {
		t.Fatal("byte denial burned the frame token")
	}
}

func TestInboundLimiterIdleDoesNotStockpile(t *testing.T) {
	clock, advance := limiterClock()
	lim := newInboundAudioLimiter(clock, 10, 0, 1)

	advance(time.Hour)
	allowed := 0
	for i := 0; i < 100; i++ {
		if lim.Allow(1) {
			allowed++
		}
	}
	if allowed != 10 {
		t.Fatalf("after an hour idle passed %d frames, want the 1s burst of 10", allowed)
	}
}

func TestInboundLimiterBytesOnly(t *testing.T) {
	clock, advance := limiterClock()
	lim := newInboundAudioLimiter(clock, 0, 1000, 1)

	// Frame count is unconstrained; only the byte budget gates.
	for i := 0; i < 10; i++ {
		if !lim.Allow(100) {
			t.Fatalf("denied at frame %d inside the byte budget", i)
		}
	}
	if lim.Allow(1) {
		t.Fatal("passed with the byte budget exhausted")
	}
	advance(500 * time.Millisecond)
	if !lim.Allow(500) {
		t.Fatal("denied after the byte budget refilled")
	}
}

func TestInboundLimiterNilAllowsEverything(t *testing.T) {
	lim := newInboundAudioLimiter(nil, 0, 0, 0)
	if lim != nil {
		t.Fatal("expected nil limiter when both rates are zero")
	}
	if !lim.Allow(1 << 20) {
		t.Fatal("nil limiter must allow")
	}
}
