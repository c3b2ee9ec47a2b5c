// Package collab owns the policy around peer collaboration: capability
// search filtering, request/response correlation, per-peer retry budgets,
// and conversation-chain tracing back to the originating human. Discovery
// and delivery themselves are external; the router wraps them.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ykute07/agentconnect/pkg/events"
	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/registry"
)

var (
	// ErrMaxRetriesExceeded means the per-peer retry budget is spent and
	// the failure must be surfaced toward the originating human.
	ErrMaxRetriesExceeded = errors.New("collaboration retry budget exhausted")
	ErrNoTransport        = errors.New("no transport attached")
)

// DefaultMaxRetries bounds resends of a failed collaboration request.
const DefaultMaxRetries = 2

// defaultSendRate paces outbound collaboration requests so a misbehaving
// workflow cannot flood peers.
var defaultSendRate = rate.Every(200 * time.Millisecond)

// Transport delivers a message to its receiver.
type Transport interface {
	Send(ctx context.Context, msg *message.Message) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, msg *message.Message) error

func (f TransportFunc) Send(ctx context.Context, msg *message.Message) error {
	return f(ctx, msg)
}

type chainLink struct {
	originID   string
	originKind registry.PeerKind
}

// Router correlates collaboration requests with their responses and
// enforces retry and routing policy. Safe for concurrent use.
type Router struct {
	selfID     string
	directory  registry.Registry
	transport  Transport
	sink       events.Sink
	limiter    *rate.Limiter
	maxRetries int

	mu            sync.Mutex
	pendingByID   map[string]string           // request ID -> peer ID
	pendingByPeer map[string]string           // peer ID -> newest request ID
	retries       map[string]int              // peer ID -> failed send count
	results       map[string]*message.Message // request ID -> response
	chain         map[string]chainLink        // conversation ID -> upstream origin
}

// NewRouter builds a Router. maxRetries <= 0 selects DefaultMaxRetries;
// a nil sink discards events.
func NewRouter(selfID string, directory registry.Registry, transport Transport, maxRetries int, sink events.Sink) *Router {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Router{
		selfID:        selfID,
		directory:     directory,
		transport:     transport,
		sink:          sink,
		limiter:       rate.NewLimiter(defaultSendRate, 5),
		maxRetries:    maxRetries,
		pendingByID:   make(map[string]string),
		pendingByPeer: make(map[string]string),
		retries:       make(map[string]int),
		results:       make(map[string]*message.Message),
		chain:         make(map[string]chainLink),
	}
}

// Search resolves a capability query to collaboration targets. The raw
// directory answer is filtered: never the requesting agent itself, never
// humans.
func (r *Router) Search(ctx context.Context, capability string) ([]registry.Peer, error) {
	if r.directory == nil {
		return nil, ErrNoTransport
	}
	raw, err := r.directory.Search(ctx, capability)
	if err != nil {
		return nil, fmt.Errorf("capability search: %w", err)
	}

	peers := make([]registry.Peer, 0, len(raw))
	for _, p := range raw {
		if p.ID == r.selfID || p.Kind == registry.KindHuman {
			continue
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// SendRequest dispatches a collaboration request to a peer and registers
// it in the pending table. The returned request ID is the correlation key
// for CheckResult. A transport failure consumes one retry credit for the
// peer; once the budget is spent the error is ErrMaxRetriesExceeded and
// the caller must route the failure toward the traced human.
func (r *Router) SendRequest(ctx context.Context, peerID, content, conversationID string) (string, error) {
	if r.transport == nil {
		return "", ErrNoTransport
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reqID := uuid.NewString()
	msg := &message.Message{
		Sender:   r.selfID,
		Receiver: peerID,
		Content:  content,
		Type:     message.TypeRequestCollaboration,
		SentAt:   time.Now(),
	}
	msg.SetMeta(message.MetaRequestID, reqID)

	if err := r.transport.Send(ctx, msg); err != nil {
		return "", r.recordFailure(peerID, conversationID, err)
	}

	r.mu.Lock()
	r.pendingByID[reqID] = peerID
	r.pendingByPeer[peerID] = reqID
	r.mu.Unlock()
	return reqID, nil
}

func (r *Router) recordFailure(peerID, conversationID string, cause error) error {
	r.mu.Lock()
	r.retries[peerID]++
	attempts := r.retries[peerID]
	r.mu.Unlock()

	if attempts > r.maxRetries {
		r.sink.Emit(events.Event{
			Kind:    events.KindCollabFailed,
			AgentID: r.selfID,
			Fields:  map[string]any{"peer": peerID, "conversation": conversationID, "attempts": attempts, "error": cause.Error()},
		})
		return fmt.Errorf("send to %s after %d attempts: %w", peerID, attempts, ErrMaxRetriesExceeded)
	}

	r.sink.Emit(events.Event{
		Kind:    events.KindCollabRetry,
		AgentID: r.selfID,
		Fields:  map[string]any{"peer": peerID, "attempt": attempts, "error": cause.Error()},
	})
	return fmt.Errorf("send to %s (attempt %d): %w", peerID, attempts, cause)
}

// ResetRetries clears the retry budget for a peer after a successful
// collaboration round-trip.
func (r *Router) ResetRetries(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retries, peerID)
}

// HandleResponse files an inbound collaboration response against its
// pending request. Responses without a matching pending entry are kept
// keyed by their correlation ID anyway so a late poller can still find them.
func (r *Router) HandleResponse(msg *message.Message) {
	reqID := msg.MetaString(message.MetaResponseTo)
	if reqID == "" {
		// Uncorrelated response: fall back to the newest pending request
		// from this sender.
		r.mu.Lock()
		reqID = r.pendingByPeer[msg.Sender]
		r.mu.Unlock()
		if reqID == "" {
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[reqID] = msg
	if peer, ok := r.pendingByID[reqID]; ok {
		delete(r.pendingByID, reqID)
		if r.pendingByPeer[peer] == reqID {
			delete(r.pendingByPeer, peer)
		}
	}
}

// CheckResult polls for a completed collaboration by correlation key.
// Never blocks; a hit consumes the stored result.
func (r *Router) CheckResult(requestID string) (*message.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.results[requestID]
	if ok {
		delete(r.results, requestID)
	}
	return msg, ok
}

// PendingFor returns the newest outstanding request ID for a peer, used
// to correlate responses that arrive without explicit metadata.
func (r *Router) PendingFor(peerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.pendingByPeer[peerID]
	return id, ok
}

// ClearPeer drops all pending state for a peer, used when a conversation
// is terminated.
func (r *Router) ClearPeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reqID, ok := r.pendingByPeer[peerID]; ok {
		delete(r.pendingByID, reqID)
		delete(r.results, reqID)
	}
	delete(r.pendingByPeer, peerID)
	delete(r.retries, peerID)
}

// RecordOrigin notes who a conversation came from, building the chain
// used to route failures back toward the originating human.
func (r *Router) RecordOrigin(conversationID, originID string, originKind registry.PeerKind) {
	if conversationID == "" || originID == "" || conversationID == originID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chain[conversationID] = chainLink{originID: originID, originKind: originKind}
}

// TraceHuman walks the conversation chain upstream from conversationID
// and returns the first human participant found.
func (r *Router) TraceHuman(conversationID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	cur := conversationID
	for !seen[cur] {
		seen[cur] = true
		link, ok := r.chain[cur]
		if !ok {
			return "", false
		}
		if link.originKind == registry.KindHuman {
			return link.originID, true
		}
		cur = link.originID
	}
	return "", false
}

// FailureNotice builds the error message surfaced toward the originating
// human when a collaboration cannot be completed.
func (r *Router) FailureNotice(peerID, conversationID, reason string) *message.Message {
	receiver, ok := r.TraceHuman(conversationID)
	if !ok {
		receiver = conversationID
	}
	msg := &message.Message{
		Sender:   r.selfID,
		Receiver: receiver,
		Content:  fmt.Sprintf("Collaboration with %s failed: %s", peerID, reason),
		Type:     message.TypeError,
		SentAt:   time.Now(),
	}
	msg.SetMeta(message.MetaErrorType, "collaboration_failed")
	return msg
}
