// Package registry defines the peer directory the agent consults to find
// collaborators by capability. The directory itself is an external
// collaborator; this package holds the interface, the peer descriptor
// types, and an in-memory hub used for single-process deployments and
// tests.
package registry

import (
	"context"
	"strings"
	"sync"
)

// PeerKind distinguishes autonomous agents from human participants.
type PeerKind string

const (
	KindAgent PeerKind = "agent"
	KindHuman PeerKind = "human"
)

// Capability is a named, described skill a peer advertises for discovery.
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Peer describes one registered participant.
type Peer struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Kind         PeerKind     `json:"kind"`
	Addr         string       `json:"addr,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	// AcceptsPayments is the optional payment capability toggle.
	AcceptsPayments bool `json:"accepts_payments,omitempty"`
}

// HasCapability reports whether the peer advertises a capability whose
// name or description matches the query (case-insensitive substring).
func (p Peer) HasCapability(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	for _, c := range p.Capabilities {
		if strings.Contains(strings.ToLower(c.Name), q) ||
			strings.Contains(strings.ToLower(c.Description), q) {
			return true
		}
	}
	return false
}

// Registry is the directory lookup interface the agent consumes.
type Registry interface {
	// Search returns peers advertising a matching capability. The raw
	// directory may include anything; filtering of self and humans is
	// collaboration policy, owned by the router.
	Search(ctx context.Context, capability string) ([]Peer, error)
	// Get returns a peer by ID.
	Get(ctx context.Context, peerID string) (Peer, bool, error)
	// Register announces a peer to the directory.
	Register(ctx context.Context, peer Peer) error
}

// Hub is an in-memory Registry.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]Peer)}
}

func (h *Hub) Register(ctx context.Context, peer Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[peer.ID] = peer
	return nil
}

// Unregister removes a peer from the directory.
func (h *Hub) Unregister(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, peerID)
}

func (h *Hub) Get(ctx context.Context, peerID string) (Peer, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[peerID]
	return p, ok, nil
}

func (h *Hub) Search(ctx context.Context, capability string) ([]Peer, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var matches []Peer
	for _, p := range h.peers {
		if p.HasCapability(capability) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// List returns all registered peers.
func (h *Hub) List() []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}
