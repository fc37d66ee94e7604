package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/llm"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/pkg/logger"
)

// SearchToolName is the tool the assistant invokes to start a search.
const SearchToolName = "search_content"

const systemPrompt = "You are a content research assistant. Answer briefly. " +
	"When a search was started for the user, tell them the results are loading in a new tab."

// ChatFrame is one event of a chat stream as written to the wire. A frame
// with content and no type is a token delta.
type ChatFrame struct {
	Type      string          `json:"type,omitempty"`
	Content   *string         `json:"content,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	HasResult bool            `json:"hasResult,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SearchToolResult is the result payload of the search tool.
type SearchToolResult struct {
	SearchID string `json:"search_id"`
	Query    string `json:"query"`
	Results  int    `json:"results"`
}

// ChatService queues chat turns and streams the assistant replies.
type ChatService struct {
	llm      llm.Client
	searches *SearchService
	model    string
	logger   *logger.Logger

	mu    sync.Mutex
	chats map[string]*chatState
}

type chatState struct {
	userID  string
	history []llm.Message
	pending []model.SendChatRequest
}

// NewChatService creates a chat service.
func NewChatService(client llm.Client, searches *SearchService, defaultModel string, log *logger.Logger) *ChatService {
	return &ChatService{
		llm:      client,
		searches: searches,
		model:    defaultModel,
		logger:   log.OrNop(),
		chats:    make(map[string]*chatState),
	}
}

// Send queues a user turn. The reply is produced when the chat stream opens.
func (s *ChatService) Send(ctx context.Context, userID, chatID string, req *model.SendChatRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		chat = &chatState{userID: userID}
		s.chats[chatID] = chat
	}
	if chat.userID != userID {
		return ErrChatNotFound
	}

	chat.pending = append(chat.pending, *req)
	return nil
}

// Stream answers the oldest queued turn of a chat.
func (s *ChatService) Stream(ctx context.Context, userID, chatID string, emit func(ChatFrame) error) error {
	turn, history, err := s.nextTurn(userID, chatID)
	if err != nil {
		return err
	}

	log := s.logger.With(zap.String("chat_id", chatID), zap.String("message_id", turn.MessageID))

	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}, history...)

	if query, ok := searchIntent(turn.Content); ok {
		note, err := s.runSearchTool(ctx, userID, query, emit)
		if err != nil {
			return err
		}
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: note})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Content})

	modelName := turn.Model
	if modelName == "" {
		modelName = s.model
	}

	resp, err := s.llm.Stream(ctx, &llm.Request{
		Model:    modelName,
		Messages: messages,
	}, func(token string) error {
		return emit(ChatFrame{Content: &token})
	})

	var reply string
	if resp != nil {
		reply = resp.Text
	}
	s.remember(chatID, llm.Message{Role: llm.RoleUser, Content: turn.Content}, llm.Message{Role: llm.RoleAssistant, Content: reply})

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("completion failed", zap.String("provider", s.llm.Name()), zap.Error(err))
		return emit(ChatFrame{Type: "error", Error: "the assistant is unavailable, please retry"})
	}

	log.Info("chat turn completed",
		zap.String("provider", s.llm.Name()),
		zap.Int("tokens", resp.Tokens),
		zap.Duration("latency", resp.Latency),
	)
	return emit(ChatFrame{Type: "done", MessageID: uuid.Must(uuid.NewV7()).String()})
}

func (s *ChatService) runSearchTool(ctx context.Context, userID, query string, emit func(ChatFrame) error) (string, error) {
	callID := "call_" + uuid.NewString()[:8]
	args, _ := json.Marshal(map[string]string{"query": query})

	if err := emit(ChatFrame{Type: "tool_call", ID: callID, Name: SearchToolName, Args: args}); err != nil {
		return "", err
	}

	resp, err := s.searches.Start(ctx, userID, &model.SearchRequest{Query: query})
	if err != nil {
		return "", err
	}

	result, _ := json.Marshal(SearchToolResult{
		SearchID: resp.SearchID,
		Query:    query,
		Results:  len(resp.Results),
	})
	if err := emit(ChatFrame{Type: "tool_call", ID: callID, Name: SearchToolName, Args: args, HasResult: true, Result: result}); err != nil {
		return "", err
	}

	return "A search for " + query + " was started.", nil
}

func (s *ChatService) nextTurn(userID, chatID string) (model.SendChatRequest, []llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok || chat.userID != userID {
		return model.SendChatRequest{}, nil, ErrChatNotFound
	}
	if len(chat.pending) == 0 {
		return model.SendChatRequest{}, nil, ErrNoTurn
	}

	turn := chat.pending[0]
	chat.pending = chat.pending[1:]
	return turn, append([]llm.Message(nil), chat.history...), nil
}

func (s *ChatService) remember(chatID string, msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chat, ok := s.chats[chatID]; ok {
		chat.history = append(chat.history, msgs...)
	}
}

// searchIntent reports whether a message asks for a search, and for what.
func searchIntent(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"search for ", "search ", "find "} {
		if strings.HasPrefix(lower, prefix) {
			if q := strings.TrimSpace(trimmed[len(prefix):]); q != "" {
				return q, true
			}
		}
	}
	return "", false
}

// IsNotFound reports whether err means the resource does not exist for the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSearchNotFound) || errors.Is(err, ErrChatNotFound) ||
		errors.Is(err, ErrNoRound) || errors.Is(err, ErrNoTurn)
}
