package crawler

import (
	"context"
	"sync"
	"time"
)

// VisitTracker deduplicates URLs within one discovery.
type VisitTracker struct {
	seen sync.Map
}

// NewVisitTracker returns an empty tracker.
func NewVisitTracker() *VisitTracker {
	return &VisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *VisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// TimerPauser sleeps for the delay or until the context finishes.
type TimerPauser struct{}

// Pause blocks for delay.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// NoPause never waits. Tests use it to keep pagination fast.
type NoPause struct{}

// Pause returns immediately.
func (NoPause) Pause(context.Context, time.Duration) {}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
