package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ykute07/agentconnect/pkg/events"
	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/registry"
)

const (
	// DefaultResetGap is the idle gap after which conversational context
	// is considered stale and reset.
	DefaultResetGap = 1800 * time.Second
	// DefaultTopicThreshold marks a topic change when average lexical
	// similarity of the newest message against recent history drops below it.
	DefaultTopicThreshold = 0.3
	// topicKeep is how many trailing messages survive a topic-change
	// truncation (three exchanges).
	topicKeep = 6
	// topicLookback is how many prior messages the heuristic compares against.
	topicLookback = 5
)

// MetaToolOutcome is the metadata key under which engines report a tool
// invocation's outcome on a produced message.
const MetaToolOutcome = "tool_outcome"

// Tool outcome tags.
const (
	ToolPeerSearch = "peer_search"
	ToolCollabSend = "collab_send"
	ToolDecompose  = "decompose"
)

// ToolOutcome is the tagged union an engine attaches to a message after a
// tool call. Tool selects which of the payload fields is meaningful.
type ToolOutcome struct {
	Tool     string          `json:"tool"`
	Peers    []registry.Peer `json:"peers,omitempty"`    // peer_search
	Peer     string          `json:"peer,omitempty"`     // collab_send
	Result   string          `json:"result,omitempty"`   // peer_search (raw) or collab_send
	OK       bool            `json:"ok,omitempty"`       // collab_send
	Subtasks []string        `json:"subtasks,omitempty"` // decompose
}

// RetryResetter clears a peer's collaboration retry budget after a
// successful round-trip.
type RetryResetter interface {
	ResetRetries(peerID string)
}

// Options configure a Workflow. Zero values select defaults.
type Options struct {
	ResetGap       time.Duration
	TopicThreshold float64
	MaxRetries     int
	Scorer         Scorer
	Checkpoints    Checkpointer
	Sink           events.Sink
	// IsHuman reports whether a participant ID belongs to a human; used
	// when a context reset truncates history to the most recent
	// human-originated message.
	IsHuman func(id string) bool
	// RetryReset, when set, is notified of successful collaborations.
	RetryReset RetryResetter
}

// Workflow runs the preprocess/reason/postprocess cycle for one thread at
// a time.
type Workflow struct {
	engine Engine
	opts   Options
}

func NewWorkflow(engine Engine, opts Options) *Workflow {
	if opts.ResetGap <= 0 {
		opts.ResetGap = DefaultResetGap
	}
	if opts.TopicThreshold <= 0 {
		opts.TopicThreshold = DefaultTopicThreshold
	}
	if opts.Scorer == nil {
		opts.Scorer = TFIDFScorer{}
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = NewMemoryCheckpointer()
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	return &Workflow{engine: engine, opts: opts}
}

// Run processes one inbound message through the full cycle and returns
// the engine result plus the post-cycle state (already checkpointed).
func (w *Workflow) Run(ctx context.Context, threadID string, inbound *message.Message) (*Result, *State, error) {
	st, ok, err := w.opts.Checkpoints.Load(threadID)
	if err != nil || !ok || st == nil {
		st = &State{MaxRetries: w.opts.MaxRetries}
	}
	st.Sender = inbound.Sender
	st.Receiver = inbound.Receiver
	st.Type = inbound.Type
	st.Metadata = inbound.Metadata
	st.Messages = append(st.Messages, inbound)

	w.preprocess(st, time.Now())

	res, err := w.reason(ctx, threadID, st)
	if err != nil {
		return nil, st, err
	}

	w.postprocess(st, res)

	if err := w.opts.Checkpoints.Save(threadID, st); err != nil {
		w.opts.Sink.Emit(events.Event{
			Kind:   events.KindWorkflowError,
			Fields: map[string]any{"thread": threadID, "error": err.Error()},
		})
	}
	return res, st, nil
}

// Forget discards the checkpointed state for a thread.
func (w *Workflow) Forget(threadID string) {
	_ = w.opts.Checkpoints.Delete(threadID)
}

func (w *Workflow) preprocess(st *State, now time.Time) {
	if !st.LastInteractionTime.IsZero() && now.Sub(st.LastInteractionTime) > w.opts.ResetGap {
		st.ContextReset = true
		w.opts.Sink.Emit(events.Event{
			Kind:   events.KindContextReset,
			Fields: map[string]any{"idle": now.Sub(st.LastInteractionTime).String()},
		})
	}
	st.LastInteractionTime = now
}

func (w *Workflow) reason(ctx context.Context, threadID string, st *State) (*Result, error) {
	switch {
	case st.ContextReset:
		st.Messages = w.lastHumanMessage(st.Messages)
		st.ContextReset = false
	case st.TopicChanged:
		if len(st.Messages) > topicKeep {
			st.Messages = st.Messages[len(st.Messages)-topicKeep:]
		}
		st.TopicChanged = false
	}

	res, err := w.engine.Invoke(ctx, &Request{
		Messages:   st.Messages,
		Sender:     st.Sender,
		Receiver:   st.Receiver,
		Type:       st.Type,
		Metadata:   st.Metadata,
		RetryCount: st.RetryCount,
		MaxRetries: st.MaxRetries,
		ThreadID:   threadID,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning engine: %w", err)
	}
	if len(res.Messages) > 0 {
		st.Messages = res.Messages
	}
	return res, nil
}

// lastHumanMessage keeps only the most recent human-originated message.
// Without a sender-kind predicate, or when no human message exists, the
// newest message is kept instead.
func (w *Workflow) lastHumanMessage(msgs []*message.Message) []*message.Message {
	if len(msgs) == 0 {
		return msgs
	}
	if w.opts.IsHuman != nil {
		for i := len(msgs) - 1; i >= 0; i-- {
			if w.opts.IsHuman(msgs[i].Sender) {
				return []*message.Message{msgs[i]}
			}
		}
	}
	return []*message.Message{msgs[len(msgs)-1]}
}

func (w *Workflow) postprocess(st *State, res *Result) {
	last := res.LastMessage()
	if last == nil {
		return
	}

	if raw, ok := last.Metadata[MetaToolOutcome]; ok {
		w.applyToolOutcome(st, raw)
	}

	w.detectTopicChange(st)
}

func (w *Workflow) applyToolOutcome(st *State, raw any) {
	outcome, err := decodeToolOutcome(raw)
	if err != nil {
		w.opts.Sink.Emit(events.Event{
			Kind:   events.KindParseFallback,
			Fields: map[string]any{"error": err.Error()},
		})
		return
	}

	switch outcome.Tool {
	case ToolPeerSearch:
		peers := outcome.Peers
		if len(peers) == 0 && outcome.Result != "" {
			if err := json.Unmarshal([]byte(outcome.Result), &peers); err != nil {
				// Unparseable search payload: keep it as a single
				// name-only entry rather than dropping it.
				peers = []registry.Peer{{Name: outcome.Result, Kind: registry.KindAgent}}
				w.opts.Sink.Emit(events.Event{
					Kind:   events.KindParseFallback,
					Fields: map[string]any{"tool": ToolPeerSearch},
				})
			}
		}
		st.AgentsFound = append(st.AgentsFound, peers...)

	case ToolCollabSend:
		if outcome.Peer == "" {
			return
		}
		if st.CollaborationResults == nil {
			st.CollaborationResults = make(map[string]*message.Message)
		}
		st.CollaborationResults[outcome.Peer] = &message.Message{
			Sender:  outcome.Peer,
			Content: outcome.Result,
			Type:    message.TypeCollaborationResponse,
		}
		if outcome.OK {
			st.RetryCount = 0
			if w.opts.RetryReset != nil {
				w.opts.RetryReset.ResetRetries(outcome.Peer)
			}
		}

	case ToolDecompose:
		st.Subtasks = append(st.Subtasks, outcome.Subtasks...)
	}
}

// decodeToolOutcome accepts either a structured value (decoded JSON map)
// or a string-encoded JSON object.
func decodeToolOutcome(raw any) (*ToolOutcome, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case *ToolOutcome:
		return v, nil
	case ToolOutcome:
		return &v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = b
	}
	var out ToolOutcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// detectTopicChange is best-effort: any panic inside the scorer is
// swallowed and the flag is simply left unset.
func (w *Workflow) detectTopicChange(st *State) {
	defer func() { _ = recover() }()

	n := len(st.Messages)
	if n < 3 {
		return
	}
	newest := st.Messages[n-1].Content

	start := n - 1 - topicLookback
	if start < 0 {
		start = 0
	}
	var total float64
	var count int
	for _, prev := range st.Messages[start : n-1] {
		if prev.Content == "" {
			continue
		}
		total += w.opts.Scorer.Score(newest, prev.Content)
		count++
	}
	if count == 0 {
		return
	}
	if avg := total / float64(count); avg < w.opts.TopicThreshold {
		st.TopicChanged = true
		w.opts.Sink.Emit(events.Event{
			Kind:   events.KindTopicChanged,
			Fields: map[string]any{"avg_similarity": avg},
		})
	}
}
