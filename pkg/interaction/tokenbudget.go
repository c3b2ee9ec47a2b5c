// Package interaction implements the self-regulation core of an agent:
// token budgeting over rolling windows, per-conversation turn limits, the
// cooldown state machine derived from budget overage, and the conversation
// tracker. Everything here is called synchronously on the message hot path
// and never returns an error.
package interaction

import (
	"sync"
	"time"
)

const (
	minuteWindow = 60 * time.Second
	hourWindow   = 3600 * time.Second
)

// observation is one token usage sample.
type observation struct {
	at     time.Time
	tokens int
}

// TokenBudget tracks token consumption over trailing minute and hour
// windows against configured maximums.
type TokenBudget struct {
	maxPerMinute int
	maxPerHour   int

	mu  sync.Mutex
	log []observation
}

func NewTokenBudget(maxPerMinute, maxPerHour int) *TokenBudget {
	return &TokenBudget{
		maxPerMinute: maxPerMinute,
		maxPerHour:   maxPerHour,
	}
}

// Record appends a usage sample. Negative counts are clamped to zero;
// zero-token samples still advance the log for timestamp bookkeeping.
func (tb *TokenBudget) Record(tokens int, at time.Time) {
	if tokens < 0 {
		tokens = 0
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.log = append(tb.log, observation{at: at, tokens: tokens})
	tb.pruneLocked(at)
}

// UsageLast sums the tokens recorded within the trailing window ending now.
func (tb *TokenBudget) UsageLast(window time.Duration) int {
	return tb.usageAt(window, time.Now())
}

func (tb *TokenBudget) usageAt(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)

	tb.mu.Lock()
	defer tb.mu.Unlock()

	sum := 0
	for _, obs := range tb.log {
		if obs.at.After(cutoff) && !obs.at.After(now) {
			sum += obs.tokens
		}
	}
	return sum
}

// OverBudget reports whether either window exceeds its maximum and by how
// much. The returned overage is taken from whichever window is violated
// more severely, which sizes the cooldown.
func (tb *TokenBudget) OverBudget() (bool, int) {
	return tb.overBudgetAt(time.Now())
}

func (tb *TokenBudget) overBudgetAt(now time.Time) (bool, int) {
	overMinute, overHour := tb.violationsAt(now)
	if overMinute == 0 && overHour == 0 {
		return false, 0
	}
	if overHour > overMinute {
		return true, overHour
	}
	return true, overMinute
}

// violationsAt returns the per-window overages at the given instant.
// A zero limit disables that window's check.
func (tb *TokenBudget) violationsAt(now time.Time) (overMinute, overHour int) {
	minuteUsage := tb.usageAt(minuteWindow, now)
	hourUsage := tb.usageAt(hourWindow, now)

	if tb.maxPerMinute > 0 && minuteUsage > tb.maxPerMinute {
		overMinute = minuteUsage - tb.maxPerMinute
	}
	if tb.maxPerHour > 0 && hourUsage > tb.maxPerHour {
		overHour = hourUsage - tb.maxPerHour
	}
	return overMinute, overHour
}

// MaxPerMinute returns the configured minute limit.
func (tb *TokenBudget) MaxPerMinute() int { return tb.maxPerMinute }

// MaxPerHour returns the configured hour limit.
func (tb *TokenBudget) MaxPerHour() int { return tb.maxPerHour }

// pruneLocked drops observations older than the hour window. Samples are
// not required to arrive in timestamp order, so prune by value not index.
func (tb *TokenBudget) pruneLocked(now time.Time) {
	cutoff := now.Add(-hourWindow)
	kept := tb.log[:0]
	for _, obs := range tb.log {
		if obs.at.After(cutoff) {
			kept = append(kept, obs)
		}
	}
	tb.log = kept
}
