package interaction

import "sync"

// TurnCounter tracks per-conversation turn counts against a maximum. One
// turn is one processed inbound-message/outbound-response cycle, not one
// LLM call; the caller increments exactly once per interaction.
type TurnCounter struct {
	maxTurns int

	mu    sync.Mutex
	turns map[string]int
}

func NewTurnCounter(maxTurns int) *TurnCounter {
	return &TurnCounter{
		maxTurns: maxTurns,
		turns:    make(map[string]int),
	}
}

// Increment advances the turn count for a conversation and returns the
// new count. Counts only move forward; Reset is the only way down.
func (tc *TurnCounter) Increment(conversationID string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.turns[conversationID]++
	return tc.turns[conversationID]
}

// Count returns the current turn count for a conversation.
func (tc *TurnCounter) Count(conversationID string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.turns[conversationID]
}

// Exhausted reports whether the conversation has reached the turn limit.
func (tc *TurnCounter) Exhausted(conversationID string) bool {
	if tc.maxTurns <= 0 {
		return false
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.turns[conversationID] >= tc.maxTurns
}

// Reset clears the turn count for one conversation.
func (tc *TurnCounter) Reset(conversationID string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.turns, conversationID)
}

// ResetAll clears every conversation's turn count.
func (tc *TurnCounter) ResetAll() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.turns = make(map[string]int)
}

// MaxTurns returns the configured limit.
func (tc *TurnCounter) MaxTurns() int { return tc.maxTurns }

// Snapshot returns a copy of all conversation turn counts.
func (tc *TurnCounter) Snapshot() map[string]int {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	out := make(map[string]int, len(tc.turns))
	for k, v := range tc.turns {
		out[k] = v
	}
	return out
}
