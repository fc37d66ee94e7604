package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicClient streams from the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

// Stream generates a reply, passing text deltas to fn.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request, fn TokenFunc) (*Completion, error) {
	r := req.withDefaults(defaultAnthropicModel)
	sink := newTokenSink(fn)

	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(r.Model),
		MaxTokens: anthropic.F(int64(r.MaxTokens)),
		Messages:  anthropic.F(anthropicMessages(r.Messages)),
	})

	var stopReason string
	var outputTokens int
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case anthropic.MessageStreamEventTypeContentBlockDelta:
			if event.Delta.Type != "text_delta" {
				continue
			}
			if err := sink.emit(event.Delta.Text); err != nil {
				return nil, err
			}
		case anthropic.MessageStreamEventTypeMessageDelta:
			stopReason = string(event.Delta.StopReason)
			outputTokens = int(event.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return sink.completion(r.Model, "error", 0), err
	}

	return sink.completion(r.Model, stopReason, outputTokens), nil
}

// anthropicMessages converts turns to the Messages API shape. The API has no
// system role inside the turn list, so instructions lead the first user turn.
func anthropicMessages(in []Message) []anthropic.MessageParam {
	system, turns := splitSystem(in)

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for i, msg := range turns {
		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		text := msg.Content
		if i == 0 && system != "" {
			text = system + "\n\n" + text
		}

		messages = append(messages, anthropic.MessageParam{
			Role: anthropic.F(role),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(text),
				},
			}),
		})
	}
	return messages
}
