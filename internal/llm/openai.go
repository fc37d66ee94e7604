package llm

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient streams from the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates an OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Stream generates a reply, passing content deltas to fn.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, fn TokenFunc) (*Completion, error) {
	r := req.withDefaults(defaultOpenAIModel)
	sink := newTokenSink(fn)

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       r.Model,
		Messages:    openAIMessages(r.Messages),
		MaxTokens:   r.MaxTokens,
		Temperature: float32(r.Temperature),
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var stopReason string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sink.completion(r.Model, stopReason, 0), nil
		}
		if err != nil {
			return sink.completion(r.Model, "error", 0), err
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if err := sink.emit(choice.Delta.Content); err != nil {
			return nil, err
		}
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
	}
}

func openAIMessages(in []Message) []openai.ChatCompletionMessage {
	roles := map[string]string{
		RoleSystem:    openai.ChatMessageRoleSystem,
		RoleAssistant: openai.ChatMessageRoleAssistant,
	}

	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, msg := range in {
		role, ok := roles[msg.Role]
		if !ok {
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}
