package stream

import (
	"context"

	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/sse"
	"github.com/conthunt/streamcore/pkg/logger"
)

// Snapshotter fetches the authoritative state of a search.
type Snapshotter interface {
	Snapshot(ctx context.Context, searchID string) (*model.SearchSnapshot, error)
}

// SearchHandler receives the typed events of a search or load-more stream.
// Any callback may be nil.
type SearchHandler struct {
	OnPlatformResult func(r model.PlatformResult)

	// OnComplete runs after done. snap is nil when reconciliation failed, in
	// which case the event-built state stands.
	OnComplete func(snap *model.SearchSnapshot)

	OnFailure func(err error)
}

// OpenSearch opens a search or load-more stream. On done the search is
// re-fetched through snap before OnComplete fires.
func (c *Consumer) OpenSearch(ctx context.Context, req Request, snap Snapshotter, handler SearchHandler) (*Handle, error) {
	return c.Open(ctx, req, &searchListener{
		searchID: req.JobID,
		snap:     snap,
		handler:  handler,
		logger:   c.logger.WithJob(string(req.Kind), req.JobID),
	})
}

type searchListener struct {
	searchID string
	snap     Snapshotter
	handler  SearchHandler
	logger   *logger.Logger
}

func (l *searchListener) Frame(h *Handle, ev sse.Event) error {
	decoded, err := model.DecodeSearchEvent(ev.Data)
	if err != nil {
		return err
	}

	switch e := decoded.(type) {
	case model.PlatformResultEvent:
		if !e.Result.Success {
			l.logger.Info("platform failed",
				zap.String("platform", string(e.Result.Platform)),
				zap.String("error", e.Result.Error),
			)
		}
		if l.handler.OnPlatformResult != nil {
			l.handler.OnPlatformResult(e.Result)
		}
		return nil
	case model.SearchDoneEvent:
		return ErrDone
	case model.SearchErrorEvent:
		return &model.StreamError{Message: e.Message}
	}
	return nil
}

func (l *searchListener) Closed(h *Handle, err error) {
	if err != nil {
		if l.handler.OnFailure != nil {
			l.handler.OnFailure(err)
		}
		return
	}

	var snap *model.SearchSnapshot
	if l.snap != nil {
		s, serr := l.snap.Snapshot(h.Context(), l.searchID)
		if serr != nil {
			l.logger.Warn("reconciliation fetch failed", zap.Error(serr))
		} else {
			snap = s
		}
	}

	if h.Aborted() {
		return
	}
	if l.handler.OnComplete != nil {
		l.handler.OnComplete(snap)
	}
}
