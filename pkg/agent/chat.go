package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/reasoning"
)

// Chat is the direct, interactive entry point: it runs a query through
// the reasoning workflow with the same timeout and token accounting as
// inter-agent traffic, but bypasses peer discovery entirely and returns
// an error instead of an error message. Usable before Attach.
func (l *Loop) Chat(ctx context.Context, query, conversationID string, metadata map[string]any) (string, error) {
	if query == "" {
		return "", errors.New("empty query")
	}
	if conversationID == "" {
		conversationID = "chat"
	}

	if remaining, active := l.control.InCooldown(); active {
		return "", fmt.Errorf("agent is in cooldown for another %s", remaining.Round(time.Second))
	}

	wf := l.getWorkflow()
	if wf == nil {
		wf = l.chatWorkflow()
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	inbound := &message.Message{
		Sender:   conversationID,
		Receiver: l.id,
		Content:  query,
		Type:     message.TypeText,
		SentAt:   time.Now(),
		Metadata: metadata,
	}

	type outcome struct {
		res *reasoning.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, _, err := wf.Run(ctx, conversationID, inbound)
		done <- outcome{res, err}
	}()

	var res *reasoning.Result
	select {
	case o := <-done:
		if o.err != nil {
			return "", o.err
		}
		res = o.res
	case <-ctx.Done():
		return "", fmt.Errorf("chat: %w", ctx.Err())
	}

	reply := res.LastMessage()
	if reply == nil || reply.Content == "" {
		return "", errors.New("reasoning workflow produced no response")
	}

	l.tracker.Touch(conversationID)
	l.control.ProcessInteraction(res.TotalTokens, conversationID)
	return reply.Content, nil
}

// chatWorkflow lazily builds a discovery-free workflow for direct chat
// before collaborators are attached.
func (l *Loop) chatWorkflow() *reasoning.Workflow {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workflow != nil {
		return l.workflow
	}
	l.workflow = reasoning.NewWorkflow(l.engine, reasoning.Options{
		ResetGap:       l.opts.ResetGap,
		TopicThreshold: l.opts.TopicThreshold,
		MaxRetries:     l.opts.MaxRetries,
		Scorer:         l.opts.Scorer,
		Checkpoints:    l.opts.Checkpoints,
		Sink:           l.sink,
	})
	return l.workflow
}
