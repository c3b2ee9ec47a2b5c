// Package reasoning drives the preprocess/reason/postprocess workflow
// around an external reasoning engine. The engine produces messages; this
// package owns conversational-memory correctness: context resets after
// long gaps, sliding-window truncation on topic change, tool-outcome
// decoding, and per-thread checkpointing.
package reasoning

import (
	"context"

	"github.com/ykute07/agentconnect/pkg/message"
)

// Request is a single structured invocation of the reasoning engine.
type Request struct {
	Messages   []*message.Message
	Sender     string
	Receiver   string
	Type       message.Type
	Metadata   map[string]any
	RetryCount int
	MaxRetries int
	// ThreadID correlates the invocation with its conversation thread.
	ThreadID string
}

// Result is what the engine hands back: the updated message sequence and
// usage accounting when the engine reports it.
type Result struct {
	Messages    []*message.Message
	TotalTokens int
}

// LastMessage returns the final message of the result, or nil when the
// engine produced nothing.
func (r *Result) LastMessage() *message.Message {
	if r == nil || len(r.Messages) == 0 {
		return nil
	}
	return r.Messages[len(r.Messages)-1]
}

// Engine is the external reasoning capability. Implementations must honor
// context cancellation; the workflow driver imposes the wall-clock bound.
type Engine interface {
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, req *Request) (*Result, error)

func (f EngineFunc) Invoke(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}
