package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/pkg/logger"
)

// SimulateErrorFilter makes a platform fail when set to true in its filter.
const SimulateErrorFilter = "simulate_error"

// SearchService holds searches in memory and produces their platform batches.
type SearchService struct {
	catalog Catalog
	delay   time.Duration
	logger  *logger.Logger

	mu       sync.Mutex
	searches map[string]*searchState
}

type searchState struct {
	id        string
	userID    string
	query     string
	platforms []model.Platform
	filters   map[model.Platform]model.Filter

	statuses map[model.Platform]model.PlatformStatus
	produced []model.PlatformResult
	items    []model.ContentItem
	seen     map[string]bool
	round    *moreRound
}

type moreRound struct {
	cursors map[model.Platform]model.Cursor
	filters map[model.Platform]model.Filter
}

// NewSearchService creates a search service. delay is the pause before each
// streamed platform batch.
func NewSearchService(catalog Catalog, delay time.Duration, log *logger.Logger) *SearchService {
	return &SearchService{
		catalog:  catalog,
		delay:    delay,
		logger:   log.OrNop(),
		searches: make(map[string]*searchState),
	}
}

// Start registers a search. The first requested platform is answered inline;
// the others arrive on the search stream.
func (s *SearchService) Start(ctx context.Context, userID string, req *model.SearchRequest) (*model.StartSearchResponse, error) {
	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = model.Platforms
	}

	st := &searchState{
		id:        uuid.Must(uuid.NewV7()).String(),
		userID:    userID,
		query:     req.Query,
		platforms: dedupPlatforms(platforms),
		filters:   req.Filters,
		statuses:  make(map[model.Platform]model.PlatformStatus),
		seen:      make(map[string]bool),
	}
	inline := st.platforms[0]
	res := s.produce(st, inline, 0, st.filters[inline])

	s.mu.Lock()
	st.recordLocked(res)
	st.produced = append(st.produced, res)
	s.searches[st.id] = st
	s.mu.Unlock()

	s.logger.Info("search started",
		zap.String("search_id", st.id),
		zap.String("user_id", userID),
		zap.String("query", req.Query),
		zap.Int("platforms", len(st.platforms)),
	)

	return &model.StartSearchResponse{
		SearchID: st.id,
		Platforms: map[model.Platform]model.PlatformStatus{
			inline: statusOf(res),
		},
		Results: append([]model.ContentItem(nil), res.Items...),
	}, nil
}

// Stream emits the first page of every platform of the search. Batches
// already produced are replayed, so a reconnecting client sees them again.
func (s *SearchService) Stream(ctx context.Context, userID, searchID string, emit func(model.PlatformResult) error) error {
	st, err := s.lookup(userID, searchID)
	if err != nil {
		return err
	}

	for _, p := range st.platforms {
		res, ok := s.producedResult(st, p)
		if !ok {
			if err := s.wait(ctx); err != nil {
				return err
			}
			res = s.produce(st, p, 0, st.filters[p])

			s.mu.Lock()
			if existing, dup := st.producedLocked(p); dup {
				res = existing
			} else {
				st.recordLocked(res)
				st.produced = append(st.produced, res)
			}
			s.mu.Unlock()
		}

		if err := emit(res); err != nil {
			return err
		}
	}
	return nil
}

// RequestMore registers a load-more round. A new request replaces a round
// whose stream was never opened.
func (s *SearchService) RequestMore(ctx context.Context, userID, searchID string, req *model.LoadMoreRequest) error {
	st, err := s.lookup(userID, searchID)
	if err != nil {
		return err
	}

	for p, cur := range req.Cursors {
		if _, ok := model.ParsePlatform(string(p)); !ok {
			return fmt.Errorf("%w: unknown platform %s", ErrInvalidCursor, p)
		}
		if _, err := s.catalog.ParseCursor(cur); err != nil {
			return fmt.Errorf("%w for %s", err, p)
		}
	}

	s.mu.Lock()
	st.round = &moreRound{cursors: req.Cursors, filters: req.Filters}
	s.mu.Unlock()

	s.logger.Info("load more requested",
		zap.String("search_id", searchID),
		zap.Int("platforms", len(req.Cursors)),
	)
	return nil
}

// MoreStream emits the requested page of every platform in the pending round.
func (s *SearchService) MoreStream(ctx context.Context, userID, searchID string, emit func(model.PlatformResult) error) error {
	st, err := s.lookup(userID, searchID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	round := st.round
	st.round = nil
	s.mu.Unlock()
	if round == nil {
		return ErrNoRound
	}

	for _, p := range model.Platforms {
		cur, ok := round.cursors[p]
		if !ok {
			continue
		}
		if err := s.wait(ctx); err != nil {
			return err
		}

		page, _ := s.catalog.ParseCursor(cur)
		filter := st.filters[p]
		if f, ok := round.filters[p]; ok {
			filter = f
		}
		res := s.produce(st, p, page, filter)

		s.mu.Lock()
		st.recordLocked(res)
		s.mu.Unlock()

		if err := emit(res); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the cumulative, deduplicated state of a search.
func (s *SearchService) Snapshot(ctx context.Context, userID, searchID string) (*model.SearchSnapshot, error) {
	st, err := s.lookup(userID, searchID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := "completed"
	if len(st.statuses) < len(st.platforms) {
		status = "running"
	}

	platforms := make(map[model.Platform]model.PlatformStatus, len(st.statuses))
	for p, ps := range st.statuses {
		platforms[p] = ps
	}

	return &model.SearchSnapshot{
		ID:        st.id,
		Status:    status,
		Platforms: platforms,
		Results:   append([]model.ContentItem(nil), st.items...),
	}, nil
}

func (s *SearchService) lookup(userID, searchID string) (*searchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.searches[searchID]
	if !ok || st.userID != userID {
		return nil, ErrSearchNotFound
	}
	return st, nil
}

func (s *SearchService) producedResult(st *searchState, p model.Platform) (model.PlatformResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return st.producedLocked(p)
}

func (s *SearchService) produce(st *searchState, p model.Platform, page int, filter model.Filter) model.PlatformResult {
	if simulated, _ := filter[SimulateErrorFilter].(bool); simulated {
		return model.PlatformResult{
			Platform: p,
			Success:  false,
			Items:    []model.ContentItem{},
			Error:    fmt.Sprintf("%s is temporarily unavailable", p),
		}
	}

	items, next := s.catalog.Page(st.query, p, page)
	return model.PlatformResult{
		Platform:   p,
		Success:    true,
		Items:      items,
		NextCursor: next,
	}
}

func (s *SearchService) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
		return nil
	}
}

func (st *searchState) producedLocked(p model.Platform) (model.PlatformResult, bool) {
	for _, res := range st.produced {
		if res.Platform == p {
			return res, true
		}
	}
	return model.PlatformResult{}, false
}

// recordLocked folds one batch into the snapshot. A failed page keeps the
// platform's previous cursor so the round can be retried.
func (st *searchState) recordLocked(res model.PlatformResult) {
	if !res.Success {
		prev := st.statuses[res.Platform]
		st.statuses[res.Platform] = model.PlatformStatus{
			Success:    false,
			NextCursor: prev.NextCursor,
			Error:      res.Error,
		}
		return
	}

	st.statuses[res.Platform] = statusOf(res)
	for _, item := range res.Items {
		if st.seen[item.ID] {
			continue
		}
		st.seen[item.ID] = true
		st.items = append(st.items, item)
	}
}

func statusOf(res model.PlatformResult) model.PlatformStatus {
	return model.PlatformStatus{
		Success:    res.Success,
		NextCursor: res.NextCursor,
		Error:      res.Error,
	}
}

func dedupPlatforms(in []model.Platform) []model.Platform {
	seen := make(map[model.Platform]bool, len(in))
	out := make([]model.Platform, 0, len(in))
	for _, p := range in {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
