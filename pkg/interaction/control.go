package interaction

import (
	"sync"
	"time"

	"github.com/ykute07/agentconnect/pkg/events"
)

// State is the regulator's verdict for one processed interaction.
type State int

const (
	// StateContinue means the conversation proceeds normally.
	StateContinue State = iota
	// StateWarn means a limit is imminent; processing continues but the
	// caller should surface the warning to the participants.
	StateWarn
	// StateStop means the turn limit is reached and the caller must
	// terminate the conversation until an explicit reset.
	StateStop
)

func (s State) String() string {
	switch s {
	case StateWarn:
		return "warn"
	case StateStop:
		return "stop"
	default:
		return "continue"
	}
}

// ConversationStats summarizes one conversation's resource usage.
type ConversationStats struct {
	TotalTokens int `json:"total_tokens"`
	TurnCount   int `json:"turn_count"`
}

// Config bundles the regulator limits.
type Config struct {
	MaxTokensPerMinute int
	MaxTokensPerHour   int
	MaxTurns           int
	MinCooldown        time.Duration
}

func DefaultControlConfig() Config {
	return Config{
		MaxTokensPerMinute: 5500,
		MaxTokensPerHour:   100000,
		MaxTurns:           20,
		MinCooldown:        DefaultMinCooldown,
	}
}

// Control composes the token budget, turn counter, and cooldown gate into
// the single decision point the agent loop calls per processed message.
type Control struct {
	budget   *TokenBudget
	turns    *TurnCounter
	cooldown *CooldownGate
	sink     events.Sink

	mu          sync.Mutex
	tokensByCID map[string]int
}

func NewControl(cfg Config, sink events.Sink) *Control {
	if sink == nil {
		sink = events.Discard
	}
	return &Control{
		budget:      NewTokenBudget(cfg.MaxTokensPerMinute, cfg.MaxTokensPerHour),
		turns:       NewTurnCounter(cfg.MaxTurns),
		cooldown:    NewCooldownGate(cfg.MinCooldown, sink),
		sink:        sink,
		tokensByCID: make(map[string]int),
	}
}

// ProcessInteraction records token usage, advances the conversation's turn
// count, evaluates the cooldown gate, and returns the resulting state.
// Negative token counts are clamped; this never fails.
func (c *Control) ProcessInteraction(tokenCount int, conversationID string) State {
	return c.processAt(tokenCount, conversationID, time.Now())
}

func (c *Control) processAt(tokenCount int, conversationID string, now time.Time) State {
	if tokenCount < 0 {
		tokenCount = 0
	}

	// Order matters within a conversation: the turn increment and token
	// recording must land before the stop decision is derived.
	c.budget.Record(tokenCount, now)
	count := c.turns.Increment(conversationID)

	c.mu.Lock()
	c.tokensByCID[conversationID] += tokenCount
	c.mu.Unlock()

	c.cooldown.evaluateAt(c.budget, now)

	maxTurns := c.turns.MaxTurns()
	if maxTurns > 0 && count >= maxTurns {
		c.sink.Emit(events.Event{
			Kind:   events.KindTurnLimitReached,
			Fields: map[string]any{"conversation_id": conversationID, "turns": count},
		})
		return StateStop
	}
	// Warn on the penultimate turn, but never on the opening turn of a
	// short conversation: a two-turn budget goes straight from continue
	// to stop.
	if maxTurns > 2 && count == maxTurns-1 {
		c.sink.Emit(events.Event{
			Kind:   events.KindTurnWarning,
			Fields: map[string]any{"conversation_id": conversationID, "turns": count},
		})
		return StateWarn
	}
	return StateContinue
}

// InCooldown reports the active cooldown, if any.
func (c *Control) InCooldown() (time.Duration, bool) {
	return c.cooldown.Remaining()
}

// SetCooldownCallback registers the operator notification hook.
func (c *Control) SetCooldownCallback(cb CooldownCallback) {
	c.cooldown.SetCallback(cb)
}

// ResetTurns clears the turn count for one conversation. Token history is
// untouched; the budget keeps protecting the provider regardless of
// operator resets.
func (c *Control) ResetTurns(conversationID string) {
	c.turns.Reset(conversationID)
}

// ResetAllTurns clears every conversation's turn count and any active
// cooldown. The token log is untouched.
func (c *Control) ResetAllTurns() {
	c.turns.ResetAll()
	c.cooldown.Clear()
}

// Stats returns per-conversation token totals and turn counts.
func (c *Control) Stats() map[string]ConversationStats {
	turns := c.turns.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]ConversationStats, len(c.tokensByCID))
	for cid, tokens := range c.tokensByCID {
		out[cid] = ConversationStats{TotalTokens: tokens, TurnCount: turns[cid]}
	}
	for cid, count := range turns {
		if _, ok := out[cid]; !ok {
			out[cid] = ConversationStats{TurnCount: count}
		}
	}
	return out
}

// Budget exposes the underlying token budget for status surfaces.
func (c *Control) Budget() *TokenBudget { return c.budget }

// Turns exposes the underlying turn counter.
func (c *Control) Turns() *TurnCounter { return c.turns }
