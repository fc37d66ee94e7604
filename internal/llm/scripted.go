package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ScriptedClient answers without a provider. It echoes the last user turn in
// word-sized tokens, which keeps the chat stream exercised in development.
type ScriptedClient struct {
	delay time.Duration
}

// NewScriptedClient creates a scripted client pausing delay between tokens.
func NewScriptedClient(delay time.Duration) *ScriptedClient {
	return &ScriptedClient{delay: delay}
}

// Name returns the provider name.
func (c *ScriptedClient) Name() string {
	return string(ProviderScripted)
}

// Stream emits the scripted reply one word at a time.
func (c *ScriptedClient) Stream(ctx context.Context, req *Request, fn TokenFunc) (*Completion, error) {
	sink := newTokenSink(fn)

	for _, token := range Tokenize(Reply(req.Messages)) {
		if c.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.delay):
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := sink.emit(token); err != nil {
			return nil, err
		}
	}

	return sink.completion(c.Name(), "end_turn", 0), nil
}

// Reply is the scripted answer to the last user turn.
func Reply(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return fmt.Sprintf("You asked about %q. Here is what I can tell you.", strings.TrimSpace(messages[i].Content))
		}
	}
	return "How can I help with your content research?"
}

// Tokenize splits s into tokens that concatenate back to s.
func Tokenize(s string) []string {
	var tokens []string
	for len(s) > 0 {
		i := strings.IndexByte(s[1:], ' ')
		if i < 0 {
			tokens = append(tokens, s)
			break
		}
		tokens = append(tokens, s[:i+1])
		s = s[i+1:]
	}
	return tokens
}
