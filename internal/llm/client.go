// Package llm provides the text generators behind the development chat backend.
package llm

import (
	"context"
	"strings"
	"time"
)

// Roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const defaultMaxTokens = 1024

// TokenFunc receives each generated token in order. Returning an error stops
// generation.
type TokenFunc func(token string) error

// Message is one turn of the prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a streaming completion request. Zero fields take provider defaults.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

func (r *Request) withDefaults(model string) Request {
	out := *r
	if out.Model == "" {
		out.Model = model
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	return out
}

// Completion summarizes a finished generation.
type Completion struct {
	Text       string
	Model      string
	Tokens     int
	StopReason string
	Latency    time.Duration
}

// Client streams completions from one provider.
type Client interface {
	Stream(ctx context.Context, req *Request, fn TokenFunc) (*Completion, error)
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderScripted  Provider = "scripted"
)

// NewClient creates a client for provider. Unknown providers get the scripted client.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewScriptedClient(0), nil
	}
}

// Select picks a provider from the configured keys, preferring Anthropic.
// Without keys it falls back to the scripted client.
func Select(anthropicKey, openAIKey string) (Client, error) {
	switch {
	case anthropicKey != "":
		return NewClient(ProviderAnthropic, anthropicKey)
	case openAIKey != "":
		return NewClient(ProviderOpenAI, openAIKey)
	default:
		return NewClient(ProviderScripted, "")
	}
}

// tokenSink forwards tokens and keeps the running text.
type tokenSink struct {
	fn    TokenFunc
	start time.Time
	text  strings.Builder
	count int
}

func newTokenSink(fn TokenFunc) *tokenSink {
	return &tokenSink{fn: fn, start: time.Now()}
}

func (s *tokenSink) emit(token string) error {
	if token == "" {
		return nil
	}
	s.text.WriteString(token)
	s.count++
	return s.fn(token)
}

func (s *tokenSink) completion(model, stopReason string, tokens int) *Completion {
	if tokens == 0 {
		tokens = s.count
	}
	return &Completion{
		Text:       s.text.String(),
		Model:      model,
		Tokens:     tokens,
		StopReason: stopReason,
		Latency:    time.Since(s.start),
	}
}

// splitSystem separates system instructions from the dialogue turns.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	return strings.Join(system, "\n\n"), turns
}
