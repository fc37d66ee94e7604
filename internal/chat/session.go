package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/api"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/stream"
	"github.com/conthunt/streamcore/pkg/logger"
)

// Backend is the part of the API client a chat session needs.
type Backend interface {
	Token(ctx context.Context) (string, error)
	SendChat(ctx context.Context, chatID string, req *model.SendChatRequest) error
}

// Streamer opens chat streams.
type Streamer interface {
	OpenChat(ctx context.Context, req stream.Request, handler stream.ChatHandler) (*stream.Handle, error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	ChatID   string
	Model    string
	UserID   string
	Backend  Backend
	Streamer Streamer
	Logger   *logger.Logger

	// OnToolResult fires once per tool call when its result arrives.
	OnToolResult func(call model.StreamingToolCall)

	// OnChange fires after every state change.
	OnChange func()
}

// Session drives the turns of one chat: optimistic user message, enqueue,
// stream, finalize. One turn streams at a time.
type Session struct {
	opts    SessionOptions
	reducer *Reducer
	logger  *logger.Logger

	mu      sync.Mutex
	turn    uint64
	busy    bool
	handle  *stream.Handle
	lastErr error
}

// NewSession creates a chat session.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.ChatID == "" {
		return nil, errors.New("chat id is required")
	}
	if opts.Backend == nil || opts.Streamer == nil {
		return nil, errors.New("backend and streamer are required")
	}
	return &Session{
		opts:    opts,
		reducer: NewReducer(),
		logger:  opts.Logger.OrNop().With(zap.String("chat_id", opts.ChatID)),
	}, nil
}

// Send appends the user message, enqueues it and streams the reply. It
// returns once the stream is open; use Wait to block until the turn ends.
func (s *Session) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return model.ErrTurnInFlight
	}
	s.busy = true
	s.turn++
	turn := s.turn
	s.lastErr = nil
	s.mu.Unlock()

	s.reducer.AppendUser(content)
	s.changed()

	if err := s.start(ctx, turn, content); err != nil {
		s.mu.Lock()
		if s.turn == turn {
			s.busy = false
			s.lastErr = err
		}
		s.mu.Unlock()
		s.changed()
		return err
	}
	return nil
}

func (s *Session) start(ctx context.Context, turn uint64, content string) error {
	token, err := s.opts.Backend.Token(ctx)
	if err != nil {
		return err
	}

	messageID := uuid.NewString()
	if err := s.opts.Backend.SendChat(ctx, s.opts.ChatID, &model.SendChatRequest{
		MessageID: messageID,
		Content:   content,
		Model:     s.opts.Model,
	}); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turn != turn {
		return context.Canceled
	}
	if _, err := s.reducer.Begin(messageID); err != nil {
		return err
	}

	h, err := s.opts.Streamer.OpenChat(context.WithoutCancel(ctx), stream.Request{
		JobID:  s.opts.ChatID,
		Kind:   model.JobKindChatTurn,
		Path:   api.ChatStreamPath(s.opts.ChatID),
		Token:  token,
		UserID: s.opts.UserID,
	}, s.handlers(turn))
	if err != nil {
		s.reducer.Fail()
		return err
	}
	s.handle = h
	return nil
}

func (s *Session) handlers(turn uint64) stream.ChatHandler {
	return stream.ChatHandler{
		OnDelta: func(content string) {
			if s.apply(turn, func() { s.reducer.ApplyDelta(content) }) {
				s.changed()
			}
		},
		OnToolCall: func(call model.StreamingToolCall) {
			var completed bool
			if !s.apply(turn, func() { completed = s.reducer.ApplyToolCall(call) }) {
				return
			}
			if completed && s.opts.OnToolResult != nil {
				s.opts.OnToolResult(call)
			}
			s.changed()
		},
		OnDone: func(messageID string) {
			if s.apply(turn, func() { s.reducer.Done(messageID); s.finishLocked(nil) }) {
				s.changed()
			}
		},
		OnFailure: func(err error) {
			applied := s.apply(turn, func() {
				s.reducer.Fail()
				s.finishLocked(err)
			})
			if applied {
				s.logger.Warn("chat stream failed", zap.Error(err))
				s.changed()
			}
		},
	}
}

// apply runs fn under the session lock if turn is still current.
func (s *Session) apply(turn uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != turn {
		return false
	}
	fn()
	return true
}

func (s *Session) finishLocked(err error) {
	s.busy = false
	s.handle = nil
	s.lastErr = err
}

// Stop aborts the streaming turn, keeping any partial reply. It returns the
// messages appended by the abort.
func (s *Session) Stop() []model.ChatMessage {
	s.mu.Lock()
	s.turn++
	h := s.handle
	appended := s.reducer.Abort()
	s.finishLocked(nil)
	s.mu.Unlock()

	if h != nil {
		h.Abort()
	}
	s.changed()
	return appended
}

// Wait blocks until the streaming turn, if any, ends.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Wait(ctx)
}

// Reset stops any turn and clears the conversation.
func (s *Session) Reset() {
	s.Stop()
	s.reducer.Reset()
	s.changed()
}

// Messages returns the durable message list.
func (s *Session) Messages() []model.ChatMessage {
	return s.reducer.Messages()
}

// Streaming returns the in-flight turn, if any.
func (s *Session) Streaming() (model.StreamingState, bool) {
	return s.reducer.Streaming()
}

// Busy reports whether a turn is being sent or streamed.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Err returns the failure of the last turn, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}
