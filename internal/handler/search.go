package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/middleware"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/service"
	"github.com/conthunt/streamcore/pkg/logger"
)

// searchFrame is a search or load-more stream event on the wire.
type searchFrame struct {
	Type       string              `json:"type"`
	Platform   model.Platform      `json:"platform,omitempty"`
	Success    bool                `json:"success,omitempty"`
	Items      []model.ContentItem `json:"items,omitempty"`
	NextCursor model.Cursor        `json:"next_cursor,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func resultFrame(res model.PlatformResult) searchFrame {
	return searchFrame{
		Type:       "platform_result",
		Platform:   res.Platform,
		Success:    res.Success,
		Items:      res.Items,
		NextCursor: res.NextCursor,
		Error:      res.Error,
	}
}

// SearchHandler handles search endpoints.
type SearchHandler struct {
	searches *service.SearchService
	logger   *logger.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searches *service.SearchService, log *logger.Logger) *SearchHandler {
	return &SearchHandler{
		searches: searches,
		logger:   log.OrNop(),
	}
}

// Start handles POST /search
func (h *SearchHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateQuery(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidatePlatforms(req.Platforms); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.searches.Start(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Snapshot handles GET /searches/{id}
func (h *SearchHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSearchID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.searches.Snapshot(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// More handles POST /search/{id}/more
func (h *SearchHandler) More(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSearchID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.LoadMoreRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Cursors) == 0 {
		writeError(w, http.StatusBadRequest, "cursors are required")
		return
	}

	if err := h.searches.RequestMore(r.Context(), middleware.GetUserID(r.Context()), id, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Stream handles GET /search/{id}/stream
func (h *SearchHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, h.searches.Stream)
}

// MoreStream handles GET /search/{id}/more/stream
func (h *SearchHandler) MoreStream(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, h.searches.MoreStream)
}

type producer func(ctx context.Context, userID, searchID string, emit func(model.PlatformResult) error) error

func (h *SearchHandler) stream(w http.ResponseWriter, r *http.Request, produce producer) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSearchID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	es, ok := newEventStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer es.close()

	err := produce(ctx, middleware.GetUserID(ctx), id, func(res model.PlatformResult) error {
		return es.send(resultFrame(res))
	})

	switch {
	case err == nil:
		_ = es.send(searchFrame{Type: "done"})
	case ctx.Err() != nil:
		h.logger.Info("SSE client disconnected", zap.String("search_id", id))
	case !es.started:
		writeServiceError(w, err)
	default:
		h.logger.Error("search stream failed", zap.String("search_id", id), zap.Error(err))
		_ = es.send(searchFrame{Type: "error", Error: "search failed"})
	}
}
