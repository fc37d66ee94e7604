package stream

import (
	"context"

	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/sse"
)

// ChatHandler receives the typed events of a chat stream. Any callback may be nil.
type ChatHandler struct {
	OnDelta    func(content string)
	OnToolCall func(call model.StreamingToolCall)
	OnDone     func(messageID string)
	OnFailure  func(err error)
}

// OpenChat opens the stream of one chat turn.
func (c *Consumer) OpenChat(ctx context.Context, req Request, handler ChatHandler) (*Handle, error) {
	return c.Open(ctx, req, &chatListener{handler: handler})
}

type chatListener struct {
	handler   ChatHandler
	messageID string
}

func (l *chatListener) Frame(h *Handle, ev sse.Event) error {
	decoded, err := model.DecodeChatEvent(ev.Data)
	if err != nil {
		return err
	}

	switch e := decoded.(type) {
	case model.DeltaEvent:
		if l.handler.OnDelta != nil {
			l.handler.OnDelta(e.Content)
		}
	case model.ToolEvent:
		if l.handler.OnToolCall != nil {
			l.handler.OnToolCall(e.Call)
		}
	case model.ChatDoneEvent:
		l.messageID = e.MessageID
		return ErrDone
	case model.ChatErrorEvent:
		return &model.StreamError{Message: e.Message}
	}
	return nil
}

func (l *chatListener) Closed(h *Handle, err error) {
	if err != nil {
		if l.handler.OnFailure != nil {
			l.handler.OnFailure(err)
		}
		return
	}
	if l.handler.OnDone != nil {
		l.handler.OnDone(l.messageID)
	}
}
