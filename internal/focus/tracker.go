// Package focus infers heads-down activity from the rate of recent tool calls.
package focus

import (
	"sync"
	"time"
)

const (
	DefaultWindow   = 90 * time.Second
	DefaultMinCalls = 3
)

// Tracker is a sliding-window counter of recent activity.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	minCalls int
	ticks    []time.Time
	now      func() time.Time
}

// NewTracker builds a tracker with default settings.
func NewTracker() *Tracker {
	return &Tracker{window: DefaultWindow, minCalls: DefaultMinCalls, now: time.Now}
}

// WithClock swaps the time source, mostly for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now != nil {
		t.now = now
	}
	return t
}

// Configure overrides the window and threshold; non-positive values keep the current setting.
func (t *Tracker) Configure(window time.Duration, minCalls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if window > 0 {
		t.window = window
	}
	if minCalls > 0 {
		t.minCalls = minCalls
	}
}

// Tick records that an action happened now.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	t.ticks = append(t.ticks, now)
}

// IsFocusModeActive reports whether enough ticks remain inside the window.
func (t *Tracker) IsFocusModeActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return len(t.ticks) >= t.minCalls
}

func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.ticks[:0]
	for _, ts := range t.ticks {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.ticks = kept
}
