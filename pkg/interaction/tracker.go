package interaction

import (
	"sync"
	"time"
)

// ConversationRecord is the per-peer conversation metadata.
type ConversationRecord struct {
	PeerID          string    `json:"peer_id"`
	MessageCount    int       `json:"message_count"`
	LastMessageTime time.Time `json:"last_message_time"`
}

// Tracker keeps one ConversationRecord per distinct peer. Records live for
// the agent's lifetime; Prune exists for operators but is never called
// automatically.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*ConversationRecord
}

func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*ConversationRecord),
	}
}

// Touch creates or updates the record for a peer and returns the new
// message count.
func (t *Tracker) Touch(peerID string) int {
	return t.touchAt(peerID, time.Now())
}

func (t *Tracker) touchAt(peerID string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[peerID]
	if !ok {
		rec = &ConversationRecord{PeerID: peerID}
		t.records[peerID] = rec
	}
	rec.MessageCount++
	rec.LastMessageTime = now
	return rec.MessageCount
}

// Get returns a copy of the record for a peer.
func (t *Tracker) Get(peerID string) (ConversationRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[peerID]
	if !ok {
		return ConversationRecord{}, false
	}
	return *rec, true
}

// Remove deletes the record for a peer. Used when a conversation is
// explicitly terminated.
func (t *Tracker) Remove(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, peerID)
}

// Snapshot returns copies of all records keyed by peer ID.
func (t *Tracker) Snapshot() map[string]ConversationRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ConversationRecord, len(t.records))
	for id, rec := range t.records {
		out[id] = *rec
	}
	return out
}

// Prune drops records idle for longer than maxIdle and returns how many
// were removed. Operator-facing; long-lived agents with many one-off peers
// grow without bound otherwise.
func (t *Tracker) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, rec := range t.records {
		if rec.LastMessageTime.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	return removed
}
