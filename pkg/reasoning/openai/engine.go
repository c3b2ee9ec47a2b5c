// Package openai adapts the OpenAI chat-completions API to the reasoning
// engine interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/reasoning"
)

const defaultModel = "gpt-4o-mini"

// Engine invokes an OpenAI-compatible chat-completions endpoint.
type Engine struct {
	client *openai.Client
	model  string
	selfID string
	// SystemPrompt, when set, is prepended to every invocation.
	SystemPrompt string
}

// New builds an Engine. baseURL may be empty for the default endpoint;
// selfID is the agent's own participant ID, used to assign chat roles.
func New(apiKey, baseURL, model, selfID string) *Engine {
	opts := []option.RequestOption{option.WithRequestTimeout(120 * time.Second)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	client := openai.NewClient(opts...)
	if model == "" {
		model = defaultModel
	}
	return &Engine{client: &client, model: model, selfID: selfID}
}

func (e *Engine) Invoke(ctx context.Context, req *reasoning.Request) (*reasoning.Result, error) {
	params := openai.ChatCompletionNewParams{
		Model:    e.model,
		Messages: e.buildMessages(req),
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("chat completion (status=%d): %s",
				apiErr.StatusCode, strings.TrimSpace(apiErr.Message))
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	reply := &message.Message{
		Sender:   e.selfID,
		Receiver: req.Sender,
		Content:  resp.Choices[0].Message.Content,
		Type:     message.TypeResponse,
		SentAt:   time.Now(),
	}

	return &reasoning.Result{
		Messages:    append(append([]*message.Message{}, req.Messages...), reply),
		TotalTokens: int(resp.Usage.TotalTokens),
	}, nil
}

// buildMessages maps the conversation onto chat roles: the agent's own
// messages become assistant turns, everything else user turns.
func (e *Engine) buildMessages(req *reasoning.Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if e.SystemPrompt != "" {
		out = append(out, openai.SystemMessage(e.SystemPrompt))
	}
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		if msg.Sender == e.selfID {
			out = append(out, openai.AssistantMessage(msg.Content))
		} else {
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
