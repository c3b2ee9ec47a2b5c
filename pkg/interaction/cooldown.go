package interaction

import (
	"sync"
	"time"

	"github.com/ykute07/agentconnect/pkg/events"
)

const (
	// DefaultMinCooldown floors every computed cooldown.
	DefaultMinCooldown = 5 * time.Second
	// maxCooldown bounds the formula so a burst cannot bench the agent
	// for longer than the hour window itself would.
	maxCooldown = 15 * time.Minute
)

// CooldownCallback is invoked synchronously when the agent enters cooldown.
type CooldownCallback func(duration time.Duration)

// CooldownState is the current pause status of the agent.
type CooldownState struct {
	Active   bool
	Until    time.Time
	Duration time.Duration
}

// CooldownGate decides whether the agent must pause based on token budget
// overage, and for how long. The duration is the time the overage needs to
// age out of the violated window (over_by * window / limit), floored at
// the configured minimum and capped at 15 minutes.
type CooldownGate struct {
	minCooldown time.Duration
	sink        events.Sink

	mu       sync.Mutex
	state    CooldownState
	callback CooldownCallback
}

func NewCooldownGate(minCooldown time.Duration, sink events.Sink) *CooldownGate {
	if minCooldown <= 0 {
		minCooldown = DefaultMinCooldown
	}
	if sink == nil {
		sink = events.Discard
	}
	return &CooldownGate{
		minCooldown: minCooldown,
		sink:        sink,
	}
}

// SetCallback registers the cooldown notification hook. The callback runs
// synchronously on the transition into cooldown; panics are recovered so a
// misbehaving hook can never take down message processing.
func (cg *CooldownGate) SetCallback(cb CooldownCallback) {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	cg.callback = cb
}

// Evaluate checks the budget and returns a cooldown duration when over
// budget. The bool is false when no cooldown is needed.
func (cg *CooldownGate) Evaluate(budget *TokenBudget) (time.Duration, bool) {
	return cg.evaluateAt(budget, time.Now())
}

func (cg *CooldownGate) evaluateAt(budget *TokenBudget, now time.Time) (time.Duration, bool) {
	overMinute, overHour := budget.violationsAt(now)
	if overMinute == 0 && overHour == 0 {
		return 0, false
	}

	var d time.Duration
	if overHour > overMinute {
		d = scaleCooldown(overHour, budget.MaxPerHour(), hourWindow)
	} else {
		d = scaleCooldown(overMinute, budget.MaxPerMinute(), minuteWindow)
	}
	if d < cg.minCooldown {
		d = cg.minCooldown
	}
	if d > maxCooldown {
		d = maxCooldown
	}

	cg.activate(d, now)
	return d, true
}

// scaleCooldown converts an overage into the time it takes that excess to
// leave the window at the permitted rate.
func scaleCooldown(overBy, limit int, window time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(float64(window) * float64(overBy) / float64(limit))
}

// activate records the cooldown and fires the callback on the transition
// into the active state. Extending an already-active cooldown does not
// re-fire the callback.
func (cg *CooldownGate) activate(d time.Duration, now time.Time) {
	cg.mu.Lock()
	wasActive := cg.state.Active && now.Before(cg.state.Until)
	until := now.Add(d)
	if !wasActive || until.After(cg.state.Until) {
		cg.state = CooldownState{Active: true, Until: until, Duration: d}
	}
	cb := cg.callback
	cg.mu.Unlock()

	if wasActive {
		return
	}

	cg.sink.Emit(events.Event{
		Kind:   events.KindCooldownStarted,
		Fields: map[string]any{"duration_seconds": d.Seconds()},
	})

	if cb != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					cg.sink.Emit(events.Event{
						Kind:   events.KindWorkflowError,
						Fields: map[string]any{"panic": r, "where": "cooldown_callback"},
					})
				}
			}()
			cb(d)
		}()
	}
}

// Remaining reports whether a cooldown is active and how long is left.
// An expired cooldown is cleared as a side effect.
func (cg *CooldownGate) Remaining() (time.Duration, bool) {
	return cg.remainingAt(time.Now())
}

func (cg *CooldownGate) remainingAt(now time.Time) (time.Duration, bool) {
	cg.mu.Lock()
	defer cg.mu.Unlock()

	if !cg.state.Active {
		return 0, false
	}
	if !now.Before(cg.state.Until) {
		cg.state = CooldownState{}
		cg.sink.Emit(events.Event{Kind: events.KindCooldownCleared})
		return 0, false
	}
	return cg.state.Until.Sub(now), true
}

// Clear cancels any active cooldown. Operator reset path.
func (cg *CooldownGate) Clear() {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	if cg.state.Active {
		cg.state = CooldownState{}
		cg.sink.Emit(events.Event{Kind: events.KindCooldownCleared})
	}
}

// State returns a copy of the current cooldown state.
func (cg *CooldownGate) State() CooldownState {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	return cg.state
}
