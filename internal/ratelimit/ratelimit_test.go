package ratelimit

import (
	"testing"
	"time"
)

func limiterAt(limit int, window time.Duration) (*Limiter, *time.Time) {
	l := New(limit, window)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_EnforcesLimitPerKey(t *testing.T) {
	l, _ := limiterAt(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow("caller-1") {
			t.Fatalf("request %d denied under limit", i+1)
		}
	}
	if l.Allow("caller-1") {
		t.Fatal("request over limit allowed")
	}
	// Other keys are unaffected.
	if !l.Allow("caller-2") {
		t.Fatal("independent key denied")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	l, now := limiterAt(2, time.Minute)

	l.Allow("r")
	*now = now.Add(30 * time.Second)
	l.Allow("r")
	if l.Allow("r") {
		t.Fatal("over limit inside window")
	}

	// The first hit slides out after another 31 seconds.
	*now = now.Add(31 * time.Second)
	if !l.Allow("r") {
		t.Fatal("request denied after window slid")
	}
}

func TestSweep_DropsIdleKeys(t *testing.T) {
	l, now := limiterAt(5, time.Minute)

	l.Allow("stale")
	*now = now.Add(2 * time.Minute)
	l.Allow("fresh")
	l.Sweep()

	l.mu.Lock()
	_, staleKept := l.hits["stale"]
	_, freshKept := l.hits["fresh"]
	l.mu.Unlock()

	if staleKept {
		t.Fatal("idle key survived sweep")
	}
	if !freshKept {
		t.Fatal("active key swept")
	}
}
