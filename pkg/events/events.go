// Package events defines the structured-event sink injected into core
// components. Components report what happened (kind, agent, fields) and the
// host decides where it goes; nothing in the core writes to a process-wide
// logger directly.
package events

import (
	"sync"

	"github.com/ykute07/agentconnect/pkg/logger"
)

// Kind classifies an emitted event.
type Kind string

const (
	KindCooldownStarted  Kind = "cooldown_started"
	KindCooldownCleared  Kind = "cooldown_cleared"
	KindTurnLimitReached Kind = "turn_limit_reached"
	KindTurnWarning      Kind = "turn_warning"
	KindWorkflowTimeout  Kind = "workflow_timeout"
	KindWorkflowError    Kind = "workflow_error"
	KindContextReset     Kind = "context_reset"
	KindTopicChanged     Kind = "topic_changed"
	KindCollabRetry      Kind = "collaboration_retry"
	KindCollabFailed     Kind = "collaboration_failed"
	KindMessageHandled   Kind = "message_handled"
	KindParseFallback    Kind = "parse_fallback"
)

// Event is a single structured occurrence inside a component.
type Event struct {
	Kind    Kind
	AgentID string
	Fields  map[string]any
}

// Sink receives events. Implementations must be safe for concurrent use
// and must not block the caller for long.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard ignores every event. Useful as a default so components never
// need a nil check before emitting.
var Discard Sink = SinkFunc(func(Event) {})

// LoggerSink bridges events to the process logger under a fixed component.
type LoggerSink struct {
	Component string
}

func (ls LoggerSink) Emit(ev Event) {
	fields := ev.Fields
	if ev.AgentID != "" {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["agent_id"] = ev.AgentID
	}
	switch ev.Kind {
	case KindWorkflowError, KindCollabFailed:
		logger.ErrorCF(ls.Component, string(ev.Kind), fields)
	case KindCooldownStarted, KindTurnLimitReached, KindWorkflowTimeout, KindCollabRetry, KindParseFallback:
		logger.WarnCF(ls.Component, string(ev.Kind), fields)
	default:
		logger.InfoCF(ls.Component, string(ev.Kind), fields)
	}
}

// Recorder is a Sink that keeps every event in memory, for tests and for
// the stats surface.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByKind returns the recorded events matching kind.
func (r *Recorder) ByKind(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
