// Package ratelimit implements the per-(user, channel) attempt window and
// cooldown the MFA Engine enforces on enrollment and challenge dispatch
// (spec.md §4.I steps 1-2), plus an HTTP per-IP limiter for the outer
// transport. The per-key bookkeeping is grounded in the teacher's
// internal/api/middleware/ratelimit.go IPRateLimiter (a sync.Map keyed by
// visitor, one limiter per key) but counts timestamps in a bounded window
// rather than a token bucket, since the spec needs an exact "N attempts in
// W" count and a distinct last-sent timestamp for cooldown, neither of
// which golang.org/x/time/rate exposes directly.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Exceeded is returned when a key has made too many attempts within the
// configured window.
type Exceeded struct {
	Key    string
	Window time.Duration
	Max    int
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("ratelimit: %s exceeded %d attempts per %s", e.Key, e.Max, e.Window)
}

// Cooldown is returned when a key sends again before the configured
// cooldown has elapsed.
type Cooldown struct {
	Key       string
	RetryIn   time.Duration
}

func (e *Cooldown) Error() string {
	return fmt.Sprintf("ratelimit: %s must wait %s before retrying", e.Key, e.RetryIn)
}

type window struct {
	attempts []time.Time
	lastSent time.Time
}

// Window enforces an "at most Max attempts per WindowSize" rule plus an
// independent minimum Cooldown between sends, per arbitrary string key
// (typically "realm:user:channel").
type Window struct {
	mu         sync.Mutex
	entries    map[string]*window
	size       time.Duration
	max        int
	cooldown   time.Duration
}

func New(windowSize time.Duration, max int, cooldown time.Duration) *Window {
	return &Window{
		entries:  make(map[string]*window),
		size:     windowSize,
		max:      max,
		cooldown: cooldown,
	}
}

// CheckAndRecordSend enforces both the attempt-window cap and the cooldown,
// and on success records this call as a new attempt/send. This is what
// enroll_email/challenge_email/challenge_sms call before dispatching.
func (w *Window) CheckAndRecordSend(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	e := w.entryLocked(key)
	e.attempts = pruneOlderThan(e.attempts, now, w.size)

	if !e.lastSent.IsZero() {
		if elapsed := now.Sub(e.lastSent); elapsed < w.cooldown {
			return &Cooldown{Key: key, RetryIn: w.cooldown - elapsed}
		}
	}
	if len(e.attempts) >= w.max {
		return &Exceeded{Key: key, Window: w.size, Max: w.max}
	}

	e.attempts = append(e.attempts, now)
	e.lastSent = now
	return nil
}

// CheckAndRecordAttempt enforces only the attempt-window cap (no
// cooldown), for the verify-side fast-window counters like verify_totp's
// "≤ 10 attempts / 5 min".
func (w *Window) CheckAndRecordAttempt(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	e := w.entryLocked(key)
	e.attempts = pruneOlderThan(e.attempts, now, w.size)

	if len(e.attempts) >= w.max {
		return &Exceeded{Key: key, Window: w.size, Max: w.max}
	}
	e.attempts = append(e.attempts, now)
	return nil
}

func (w *Window) entryLocked(key string) *window {
	e, ok := w.entries[key]
	if !ok {
		e = &window{}
		w.entries[key] = e
	}
	return e
}

func pruneOlderThan(attempts []time.Time, now time.Time, size time.Duration) []time.Time {
	cutoff := now.Add(-size)
	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
