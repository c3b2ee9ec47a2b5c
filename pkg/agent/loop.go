// Package agent implements the autonomous message-processing loop: it
// classifies inbound messages, drives the reasoning workflow under a
// wall-clock timeout, applies interaction control, tracks conversations,
// and builds the outbound response. Errors never escape to the transport;
// they become tagged error responses.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ykute07/agentconnect/pkg/collab"
	"github.com/ykute07/agentconnect/pkg/events"
	"github.com/ykute07/agentconnect/pkg/interaction"
	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/reasoning"
	"github.com/ykute07/agentconnect/pkg/registry"
)

// DefaultTimeout bounds a single reasoning-workflow invocation.
const DefaultTimeout = 180 * time.Second

const (
	stopNotice   = "\n\n[This conversation has reached its maximum number of turns and will now end.]"
	warnNotice   = "\n\n[Note: this conversation is approaching its turn limit.]"
	closedNotice = "[This conversation has reached its maximum number of turns. It stays closed until it is reset.]"
)

// Options configure a Loop. Zero values select defaults.
type Options struct {
	Control        interaction.Config
	Timeout        time.Duration
	MaxRetries     int
	ResetGap       time.Duration
	TopicThreshold float64
	Scorer         reasoning.Scorer
	Checkpoints    reasoning.Checkpointer
	Sink           events.Sink
}

// Loop is one agent's processing cycle. Construct with NewLoop, then
// Attach the discovery and transport collaborators before inter-agent
// traffic flows; until then ProcessMessage answers with an
// initialization error. Safe for concurrent ProcessMessage calls.
type Loop struct {
	id      string
	engine  reasoning.Engine
	opts    Options
	control *interaction.Control
	tracker *interaction.Tracker
	sink    events.Sink

	mu        sync.Mutex
	directory registry.Registry
	router    *collab.Router
	workflow  *reasoning.Workflow
}

func NewLoop(id string, engine reasoning.Engine, opts Options) *Loop {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = reasoning.NewMemoryCheckpointer()
	}
	return &Loop{
		id:      id,
		engine:  engine,
		opts:    opts,
		control: interaction.NewControl(opts.Control, opts.Sink),
		tracker: interaction.NewTracker(),
		sink:    opts.Sink,
	}
}

// Attach wires the peer directory and transport, enabling collaboration.
// The reasoning workflow is built here so its collaboration hooks can
// reference the router. Attaching twice is a no-op.
func (l *Loop) Attach(directory registry.Registry, transport collab.Transport) error {
	if directory == nil {
		return errors.New("attach: nil directory")
	}
	if transport == nil {
		return errors.New("attach: nil transport")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.router != nil {
		return nil
	}
	l.directory = directory
	l.router = collab.NewRouter(l.id, directory, transport, l.opts.MaxRetries, l.sink)
	l.workflow = reasoning.NewWorkflow(l.engine, reasoning.Options{
		ResetGap:       l.opts.ResetGap,
		TopicThreshold: l.opts.TopicThreshold,
		MaxRetries:     l.opts.MaxRetries,
		Scorer:         l.opts.Scorer,
		Checkpoints:    l.opts.Checkpoints,
		Sink:           l.sink,
		IsHuman:        l.isHuman,
		RetryReset:     l.router,
	})
	return nil
}

// Control exposes the interaction control surface (stats, resets,
// cooldown hooks) to the operator.
func (l *Loop) Control() *interaction.Control { return l.control }

// Tracker exposes the conversation records.
func (l *Loop) Tracker() *interaction.Tracker { return l.tracker }

// Router returns the collaboration router, nil before Attach.
func (l *Loop) Router() *collab.Router {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.router
}

func (l *Loop) getWorkflow() *reasoning.Workflow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workflow
}

func (l *Loop) getDirectory() registry.Registry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.directory
}

// ProcessMessage runs one inbound message through the loop and returns
// the outbound response, or nil when no response is warranted. It never
// panics and never returns an error: failures become tagged error
// responses.
func (l *Loop) ProcessMessage(ctx context.Context, msg *message.Message) (out *message.Message) {
	if msg == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			l.sink.Emit(events.Event{
				Kind:    events.KindWorkflowError,
				AgentID: l.id,
				Fields:  map[string]any{"panic": fmt.Sprint(r)},
			})
			out = l.errorResponse(msg.Sender, ErrTypeProcessing,
				"An internal error occurred while processing your message.")
		}
	}()

	// The conversation record advances no matter how processing ends.
	defer l.tracker.Touch(msg.Sender)

	if resp := l.classifyError(msg); resp != nil {
		return resp
	}

	wf := l.getWorkflow()
	if wf == nil {
		return l.errorResponse(msg.Sender, ErrTypeInitialization,
			"Agent is still starting up; discovery and transport are not attached yet.")
	}

	if msg.Type == message.TypeCollaborationResponse {
		if router := l.Router(); router != nil {
			router.HandleResponse(msg)
		}
	}

	// A stopped conversation stays stopped: answer with the closure notice
	// without spending a reasoning cycle on it.
	if l.control.Turns().Exhausted(msg.Sender) {
		out = &message.Message{
			Sender:   l.id,
			Receiver: msg.Sender,
			Content:  closedNotice,
			Type:     responseType(msg.Type),
			SentAt:   time.Now(),
		}
		return out
	}

	// An active cooldown refuses new reasoning cycles outright.
	if remaining, active := l.control.InCooldown(); active {
		resp := l.errorResponse(msg.Sender, ErrTypeCooldown,
			fmt.Sprintf("Agent is in a cooldown period and cannot process new requests for another %s.",
				remaining.Round(time.Second)))
		resp.SetMeta(message.MetaRetryAfter, int(remaining.Seconds())+1)
		return resp
	}

	res, st, err := l.invokeWorkflow(ctx, wf, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			l.sink.Emit(events.Event{
				Kind:    events.KindWorkflowTimeout,
				AgentID: l.id,
				Fields:  map[string]any{"peer": msg.Sender, "timeout": l.opts.Timeout.String()},
			})
			return l.errorResponse(msg.Sender, ErrTypeTimeout,
				"The request took too long to process and was abandoned.")
		}
		return l.errorResponse(msg.Sender, ErrTypeProcessing, err.Error())
	}

	reply := res.LastMessage()
	if reply == nil || reply.Content == "" {
		return l.errorResponse(msg.Sender, ErrTypeEmptyResponse,
			"The reasoning workflow produced no response.")
	}

	l.recordDelegations(msg, st)

	tokens := res.TotalTokens
	state := l.control.ProcessInteraction(tokens, msg.Sender)

	content := reply.Content
	switch state {
	case interaction.StateStop:
		content += stopNotice
		l.terminateConversation(msg.Sender)
	case interaction.StateWarn:
		content += warnNotice
	}

	out = &message.Message{
		Sender:   l.id,
		Receiver: msg.Sender,
		Content:  content,
		Type:     responseType(msg.Type),
		SentAt:   time.Now(),
	}
	out.SetMeta(message.MetaTokenCount, tokens)
	if respTo := l.correlate(msg); respTo != "" {
		out.SetMeta(message.MetaResponseTo, respTo)
	}

	l.sink.Emit(events.Event{
		Kind:    events.KindMessageHandled,
		AgentID: l.id,
		Fields:  map[string]any{"peer": msg.Sender, "state": state.String(), "tokens": tokens},
	})
	return out
}

// classifyError short-circuits recognized inbound error tags when the
// failure can be explained to the human who originally asked.
func (l *Loop) classifyError(msg *message.Message) *message.Message {
	router := l.Router()
	if !msg.IsErrorTagged(handledErrorTags...) || router == nil {
		return nil
	}
	human, ok := router.TraceHuman(msg.Sender)
	if !ok {
		return nil
	}

	out := &message.Message{
		Sender:   l.id,
		Receiver: human,
		Content:  apologyFor(msg.MetaString(message.MetaErrorType), msg.Sender),
		Type:     message.TypeText,
		SentAt:   time.Now(),
	}
	out.SetMeta(message.MetaHandled, true)
	out.SetMeta(message.MetaErrorType, msg.MetaString(message.MetaErrorType))
	return out
}

// invokeWorkflow runs the reasoning workflow under the wall-clock bound.
// On expiry the in-flight invocation is abandoned and its eventual result
// discarded.
func (l *Loop) invokeWorkflow(ctx context.Context, wf *reasoning.Workflow, msg *message.Message) (*reasoning.Result, *reasoning.State, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	input := *msg
	input.Content = l.contextPrefix(msg) + msg.Content

	type outcome struct {
		res *reasoning.Result
		st  *reasoning.State
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, st, err := wf.Run(ctx, msg.Sender, &input)
		done <- outcome{res, st, err}
	}()

	select {
	case o := <-done:
		return o.res, o.st, o.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// contextPrefix disambiguates who is talking and in what role, so the
// reasoning capability can frame its reply.
func (l *Loop) contextPrefix(msg *message.Message) string {
	who := "a peer agent"
	if l.isHuman(msg.Sender) {
		who = "a human user"
	}
	switch msg.Type {
	case message.TypeRequestCollaboration:
		return fmt.Sprintf("[Collaboration request from %s (%s)] ", who, msg.Sender)
	case message.TypeCollaborationResponse:
		return fmt.Sprintf("[Collaboration result from %s (%s)] ", who, msg.Sender)
	default:
		return fmt.Sprintf("[Message from %s (%s)] ", who, msg.Sender)
	}
}

func (l *Loop) isHuman(id string) bool {
	directory := l.getDirectory()
	if directory == nil {
		return false
	}
	p, ok, err := directory.Get(context.Background(), id)
	return err == nil && ok && p.Kind == registry.KindHuman
}

// recordDelegations links any peers the workflow collaborated with back
// to this conversation's originator, so later failures can be traced to
// the human.
func (l *Loop) recordDelegations(msg *message.Message, st *reasoning.State) {
	router := l.Router()
	if router == nil || st == nil {
		return
	}
	kind := registry.KindAgent
	if l.isHuman(msg.Sender) {
		kind = registry.KindHuman
	}
	for peerID := range st.CollaborationResults {
		router.RecordOrigin(peerID, msg.Sender, kind)
	}
}

// correlate finds the request ID a response should reference: the inbound
// request's own metadata first, then the pending-request table.
func (l *Loop) correlate(msg *message.Message) string {
	if id := msg.MetaString(message.MetaRequestID); id != "" {
		return id
	}
	if router := l.Router(); router != nil {
		if id, ok := router.PendingFor(msg.Sender); ok {
			return id
		}
	}
	return ""
}

// terminateConversation clears pending state for a peer once the turn
// limit ends the conversation. Turn counts stay until an explicit reset.
func (l *Loop) terminateConversation(peerID string) {
	if router := l.Router(); router != nil {
		router.ClearPeer(peerID)
	}
	if wf := l.getWorkflow(); wf != nil {
		wf.Forget(peerID)
	}
}

func responseType(inbound message.Type) message.Type {
	if inbound == message.TypeRequestCollaboration {
		return message.TypeCollaborationResponse
	}
	return message.TypeResponse
}
