package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/middleware"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/service"
	"github.com/conthunt/streamcore/pkg/logger"
)

// ChatHandler handles chat endpoints.
type ChatHandler struct {
	chats  *service.ChatService
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chats *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chats:  chats,
		logger: log.OrNop(),
	}
}

// Send handles POST /chats/{id}/send
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chats.Send(r.Context(), middleware.GetUserID(r.Context()), chatID, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "queued",
		"message_id": req.MessageID,
	})
}

// Stream handles GET /chats/{id}/stream
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	es, ok := newEventStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer es.close()

	err := h.chats.Stream(ctx, middleware.GetUserID(ctx), chatID, func(f service.ChatFrame) error {
		return es.send(f)
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		h.logger.Info("SSE client disconnected", zap.String("chat_id", chatID))
	case !es.started:
		writeServiceError(w, err)
	default:
		h.logger.Error("chat stream failed", zap.String("chat_id", chatID), zap.Error(err))
		_ = es.send(service.ChatFrame{Type: "error", Error: "chat failed"})
	}
}
