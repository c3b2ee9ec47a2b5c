package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ykute07/agentconnect/pkg/collab"
	"github.com/ykute07/agentconnect/pkg/events"
	"github.com/ykute07/agentconnect/pkg/interaction"
	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/reasoning"
	"github.com/ykute07/agentconnect/pkg/registry"
)

func testOptions() Options {
	return Options{
		Control: interaction.Config{
			MaxTokensPerMinute: 100000,
			MaxTokensPerHour:   1000000,
			MaxTurns:           100,
			MinCooldown:        time.Second,
		},
		Timeout: 5 * time.Second,
	}
}

// countingEngine wraps echoEngine and counts invocations, so tests can
// assert the engine was not consulted at all.
func countingEngine(reply string, tokens int, calls *int) reasoning.Engine {
	inner := echoEngine(reply, tokens)
	return reasoning.EngineFunc(func(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
		*calls++
		return inner.Invoke(ctx, req)
	})
}

func echoEngine(reply string, tokens int) reasoning.Engine {
	return reasoning.EngineFunc(func(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
		out := append([]*message.Message{}, req.Messages...)
		out = append(out, &message.Message{
			Sender:  req.Receiver,
			Content: reply,
			Type:    message.TypeResponse,
		})
		return &reasoning.Result{Messages: out, TotalTokens: tokens}, nil
	})
}

func attached(l *Loop) *Loop {
	hub := registry.NewHub()
	hub.Register(context.Background(), registry.Peer{ID: "human-1", Kind: registry.KindHuman})
	hub.Register(context.Background(), registry.Peer{ID: "peer-1", Kind: registry.KindAgent})
	if err := l.Attach(hub, collab.TransportFunc(func(ctx context.Context, msg *message.Message) error {
		return nil
	})); err != nil {
		panic(err)
	}
	return l
}

func TestLoop_AttachValidatesAndIsIdempotent(t *testing.T) {
	l := NewLoop("self", echoEngine("hi", 0), testOptions())

	if err := l.Attach(nil, nil); err == nil {
		t.Fatal("Attach must reject nil collaborators")
	}

	l = attached(l)
	router := l.Router()
	if err := l.Attach(registry.NewHub(), collab.TransportFunc(func(ctx context.Context, msg *message.Message) error {
		return nil
	})); err != nil {
		t.Fatalf("second Attach: %v", err)
	}
	if l.Router() != router {
		t.Error("second Attach must not rebuild the router")
	}
}

func textFrom(sender, content string) *message.Message {
	return &message.Message{Sender: sender, Receiver: "self", Content: content, Type: message.TypeText}
}

func TestLoop_RespondsToText(t *testing.T) {
	l := attached(NewLoop("self", echoEngine("hello back", 7), testOptions()))

	out := l.ProcessMessage(context.Background(), textFrom("human-1", "hello"))
	if out == nil {
		t.Fatal("expected a response")
	}
	if out.Type != message.TypeResponse {
		t.Errorf("Type = %q, want response", out.Type)
	}
	if !strings.Contains(out.Content, "hello back") {
		t.Errorf("Content = %q, want the engine reply", out.Content)
	}
	if got := out.Metadata[message.MetaTokenCount]; got != 7 {
		t.Errorf("token_count = %v, want 7", got)
	}

	rec, ok := l.Tracker().Get("human-1")
	if !ok || rec.MessageCount != 1 {
		t.Errorf("conversation record = (%+v, %v), want one message", rec, ok)
	}
}

func TestLoop_InitializationErrorBeforeAttach(t *testing.T) {
	l := NewLoop("self", echoEngine("hi", 0), testOptions())

	out := l.ProcessMessage(context.Background(), textFrom("human-1", "hello"))
	if out == nil || out.Type != message.TypeError {
		t.Fatalf("out = %+v, want an error response", out)
	}
	if got := out.MetaString(message.MetaErrorType); got != ErrTypeInitialization {
		t.Errorf("error_type = %q, want %q", got, ErrTypeInitialization)
	}
	// The conversation record still advances
	if rec, ok := l.Tracker().Get("human-1"); !ok || rec.MessageCount != 1 {
		t.Error("tracker must be updated regardless of outcome")
	}
}

func TestLoop_WorkflowTimeout(t *testing.T) {
	slow := reasoning.EngineFunc(func(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
		select {
		case <-time.After(5 * time.Second):
			return &reasoning.Result{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond
	rec := &events.Recorder{}
	opts.Sink = rec
	l := attached(NewLoop("self", slow, opts))

	start := time.Now()
	out := l.ProcessMessage(context.Background(), textFrom("human-1", "slow question"))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout response took %v, must return promptly", elapsed)
	}

	if out == nil || out.MetaString(message.MetaErrorType) != ErrTypeTimeout {
		t.Fatalf("out = %+v, want workflow_timeout error", out)
	}
	if got := len(rec.ByKind(events.KindWorkflowTimeout)); got != 1 {
		t.Errorf("workflow_timeout events = %d, want 1", got)
	}
}

func TestLoop_MaxTurnsEndsConversation(t *testing.T) {
	opts := testOptions()
	opts.Control.MaxTurns = 2
	l := attached(NewLoop("self", echoEngine("reply", 1), opts))

	// A two-turn budget never warns: the opening turn is a plain reply.
	first := l.ProcessMessage(context.Background(), textFrom("human-1", "one"))
	if first.Content != "reply" {
		t.Errorf("turn 1 content = %q, want the bare reply with no notice", first.Content)
	}

	second := l.ProcessMessage(context.Background(), textFrom("human-1", "two"))
	if !strings.Contains(second.Content, "maximum number of turns") {
		t.Errorf("turn 2 content = %q, want termination notice", second.Content)
	}

	// Other conversations are unaffected
	other := l.ProcessMessage(context.Background(), textFrom("peer-1", "hello"))
	if strings.Contains(other.Content, "maximum number of turns") {
		t.Errorf("peer-1 content = %q, must not inherit the stop", other.Content)
	}
}

func TestLoop_StoppedConversationSkipsEngine(t *testing.T) {
	var calls int
	opts := testOptions()
	opts.Control.MaxTurns = 1
	l := attached(NewLoop("self", countingEngine("reply", 1, &calls), opts))

	first := l.ProcessMessage(context.Background(), textFrom("human-1", "one"))
	if !strings.Contains(first.Content, "maximum number of turns") {
		t.Errorf("turn 1 content = %q, want termination notice", first.Content)
	}

	second := l.ProcessMessage(context.Background(), textFrom("human-1", "two"))
	if calls != 1 {
		t.Errorf("engine calls = %d, want 1; a stopped conversation must not reach the engine", calls)
	}
	if second == nil || !strings.Contains(second.Content, "maximum number of turns") {
		t.Fatalf("post-stop response = %+v, want the closure notice", second)
	}
	if second.Type != message.TypeResponse {
		t.Errorf("Type = %q, want response", second.Type)
	}

	// A fresh conversation still works
	other := l.ProcessMessage(context.Background(), textFrom("peer-1", "hello"))
	if calls != 2 || other == nil || other.Type == message.TypeError {
		t.Errorf("peer-1 response = %+v (engine calls %d), want normal processing", other, calls)
	}
}

func TestLoop_CooldownRefusesNewWork(t *testing.T) {
	var calls int
	opts := testOptions()
	opts.Control.MaxTokensPerMinute = 100
	l := attached(NewLoop("self", countingEngine("big answer", 500, &calls), opts))

	first := l.ProcessMessage(context.Background(), textFrom("human-1", "one"))
	if first == nil || first.Type == message.TypeError {
		t.Fatalf("first = %+v, want a normal response before the budget trips", first)
	}
	if _, active := l.Control().InCooldown(); !active {
		t.Fatal("expected an active cooldown after blowing the minute budget")
	}

	second := l.ProcessMessage(context.Background(), textFrom("human-1", "two"))
	if second == nil || second.MetaString(message.MetaErrorType) != ErrTypeCooldown {
		t.Fatalf("second = %+v, want a cooldown_active refusal", second)
	}
	if calls != 1 {
		t.Errorf("engine calls = %d, want 1; cooldown must refuse before invoking the engine", calls)
	}
	if second.Metadata[message.MetaRetryAfter] == nil {
		t.Error("refusal must carry retry_after_seconds")
	}
}

func TestLoop_ChatRefusedDuringCooldown(t *testing.T) {
	opts := testOptions()
	opts.Control.MaxTokensPerMinute = 100
	l := NewLoop("self", echoEngine("big answer", 500), opts)

	if _, err := l.Chat(context.Background(), "first", "cli", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, err := l.Chat(context.Background(), "second", "cli", nil); err == nil {
		t.Fatal("Chat must refuse while the cooldown is active")
	}
}

func TestLoop_CollaborationRoundTrip(t *testing.T) {
	l := attached(NewLoop("self", echoEngine("here is the subtask result", 3), testOptions()))

	req := &message.Message{
		Sender:   "peer-1",
		Receiver: "self",
		Content:  "please translate this",
		Type:     message.TypeRequestCollaboration,
	}
	req.SetMeta(message.MetaRequestID, "req-123")

	out := l.ProcessMessage(context.Background(), req)
	if out == nil {
		t.Fatal("expected a response")
	}
	if out.Type != message.TypeCollaborationResponse {
		t.Errorf("Type = %q, want collaboration_response", out.Type)
	}
	if got := out.MetaString(message.MetaResponseTo); got != "req-123" {
		t.Errorf("response_to = %q, want req-123", got)
	}
}

func TestLoop_HandledErrorShortCircuit(t *testing.T) {
	invoked := false
	eng := reasoning.EngineFunc(func(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
		invoked = true
		return &reasoning.Result{}, nil
	})
	l := attached(NewLoop("self", eng, testOptions()))
	l.Router().RecordOrigin("peer-1", "human-1", registry.KindHuman)

	errMsg := &message.Message{
		Sender:   "peer-1",
		Receiver: "self",
		Content:  "upstream failure",
		Type:     message.TypeError,
	}
	errMsg.SetMeta(message.MetaErrorType, ErrTypeMaxRetries)

	out := l.ProcessMessage(context.Background(), errMsg)
	if out == nil {
		t.Fatal("expected an explanation message")
	}
	if invoked {
		t.Error("reasoning workflow must not run for a handled error")
	}
	if out.Receiver != "human-1" {
		t.Errorf("Receiver = %q, want the traced human", out.Receiver)
	}
	if out.Metadata[message.MetaHandled] != true {
		t.Error("explanation must be tagged handled_error")
	}
	if out.Type != message.TypeText {
		t.Errorf("Type = %q, want text", out.Type)
	}
}

func TestLoop_UntraceableErrorGoesThroughWorkflow(t *testing.T) {
	l := attached(NewLoop("self", echoEngine("noted", 1), testOptions()))

	errMsg := &message.Message{Sender: "peer-1", Receiver: "self", Content: "failure", Type: message.TypeError}
	errMsg.SetMeta(message.MetaErrorType, ErrTypeTimeout)

	out := l.ProcessMessage(context.Background(), errMsg)
	if out == nil || out.Metadata[message.MetaHandled] == true {
		t.Errorf("out = %+v, want normal processing when no human can be traced", out)
	}
}

func TestLoop_PanicBecomesProcessingError(t *testing.T) {
	eng := reasoning.EngineFunc(func(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
		panic("engine exploded")
	})
	l := attached(NewLoop("self", eng, testOptions()))

	out := l.ProcessMessage(context.Background(), textFrom("human-1", "hello"))
	if out == nil || out.MetaString(message.MetaErrorType) != ErrTypeProcessing {
		t.Fatalf("out = %+v, want processing_error", out)
	}
}

func TestLoop_EngineErrorBecomesProcessingError(t *testing.T) {
	eng := reasoning.EngineFunc(func(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
		return nil, errors.New("model unavailable")
	})
	l := attached(NewLoop("self", eng, testOptions()))

	out := l.ProcessMessage(context.Background(), textFrom("human-1", "hello"))
	if out == nil || out.MetaString(message.MetaErrorType) != ErrTypeProcessing {
		t.Fatalf("out = %+v, want processing_error", out)
	}
}

func TestLoop_EmptyWorkflowResponse(t *testing.T) {
	eng := reasoning.EngineFunc(func(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
		return &reasoning.Result{}, nil
	})
	l := attached(NewLoop("self", eng, testOptions()))

	out := l.ProcessMessage(context.Background(), textFrom("human-1", "hello"))
	if out == nil || out.MetaString(message.MetaErrorType) != ErrTypeEmptyResponse {
		t.Fatalf("out = %+v, want empty_workflow_response", out)
	}
}

func TestLoop_ChatWorksWithoutAttach(t *testing.T) {
	l := NewLoop("self", echoEngine("direct answer", 5), testOptions())

	got, err := l.Chat(context.Background(), "what is two plus two", "cli", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.Contains(got, "direct answer") {
		t.Errorf("Chat = %q, want the engine reply", got)
	}

	// Same accounting as inter-agent traffic
	stats := l.Control().Stats()["cli"]
	if stats.TurnCount != 1 || stats.TotalTokens != 5 {
		t.Errorf("stats = %+v, want 1 turn and 5 tokens", stats)
	}
}

func TestLoop_ChatRaisesOnFailure(t *testing.T) {
	eng := reasoning.EngineFunc(func(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
		return nil, errors.New("model unavailable")
	})
	l := NewLoop("self", eng, testOptions())

	if _, err := l.Chat(context.Background(), "hello", "cli", nil); err == nil {
		t.Fatal("Chat must surface failures as errors, not error strings")
	}
}
