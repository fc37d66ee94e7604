// Package search owns the tabs of a search session: their streams, result
// sets, cursors and pagination rounds.
package search

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/aggregate"
	"github.com/conthunt/streamcore/internal/api"
	"github.com/conthunt/streamcore/internal/cursor"
	"github.com/conthunt/streamcore/internal/loadmore"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/stream"
	"github.com/conthunt/streamcore/pkg/logger"
)

// Backend is the part of the API client a search session needs.
type Backend interface {
	loadmore.Backend
	StartSearch(ctx context.Context, req *model.SearchRequest) (*model.StartSearchResponse, error)
}

// Streamer opens search and load-more streams.
type Streamer = loadmore.Streamer

// Options configures a Session.
type Options struct {
	Backend  Backend
	Streamer Streamer
	Logger   *logger.Logger
	UserID   string

	// OnChange fires after any state change of a tab.
	OnChange func(tabID string)
}

type tab struct {
	id       string
	searchID string
	query    string
	gen      uint64
	cursors  *cursor.Store
	handle   *stream.Handle
	round    *loadmore.Round
	err      error
	failures map[model.Platform]string

	// searching is set until the search stream completes or fails.
	searching bool
}

// streaming reports whether the tab's search stream may still write cursors.
// A handle aborted by the consumer, e.g. when another tab attached the same
// search, no longer counts.
func (t *tab) streaming() bool {
	return t.searching && (t.handle == nil || !t.handle.Aborted())
}

// Session is the state container of one user's searches. All writes go
// through its methods; reads return copies.
type Session struct {
	backend  Backend
	streamer Streamer
	results  *aggregate.Aggregator
	rounds   *loadmore.Orchestrator
	logger   *logger.Logger
	userID   string
	onChange func(string)

	mu    sync.Mutex
	gen   uint64
	tabs  map[string]*tab
	order []string
}

// NewSession creates a session.
func NewSession(opts Options) (*Session, error) {
	if opts.Backend == nil || opts.Streamer == nil {
		return nil, errors.New("backend and streamer are required")
	}

	s := &Session{
		backend:  opts.Backend,
		streamer: opts.Streamer,
		results:  aggregate.New(),
		logger:   opts.Logger.OrNop(),
		userID:   opts.UserID,
		onChange: opts.OnChange,
		tabs:     make(map[string]*tab),
	}
	s.rounds = loadmore.New(loadmore.Options{
		Backend:  opts.Backend,
		Streamer: opts.Streamer,
		Results:  s.results,
		Logger:   opts.Logger,
		OnUpdate: s.changed,
	})
	return s, nil
}

// Start runs a new search in the tab, replacing whatever the tab held.
func (s *Session) Start(ctx context.Context, tabID string, req *model.SearchRequest) (*model.StartSearchResponse, error) {
	resp, err := s.backend.StartSearch(ctx, req)
	if err != nil {
		return nil, err
	}

	t, gen := s.reset(tabID, resp.SearchID, req.Query)

	s.mu.Lock()
	if s.live(t, gen) {
		s.results.Ingest(tabID, resp.Results)
		for p, st := range resp.Platforms {
			s.applyStatusLocked(t, p, st)
		}
	}
	s.mu.Unlock()

	return resp, s.open(ctx, t, gen)
}

// Attach streams an existing search into the tab, e.g. one started by the
// chat assistant.
func (s *Session) Attach(ctx context.Context, tabID, searchID string) error {
	if searchID == "" {
		return errors.New("search id is required")
	}
	t, gen := s.reset(tabID, searchID, "")
	return s.open(ctx, t, gen)
}

func (s *Session) reset(tabID, searchID, query string) (*tab, uint64) {
	s.mu.Lock()
	prev := s.tabs[tabID]
	s.gen++
	t := &tab{
		id:        tabID,
		searchID:  searchID,
		query:     query,
		gen:       s.gen,
		cursors:   cursor.NewStore(),
		failures:  make(map[model.Platform]string),
		searching: true,
	}
	if prev == nil {
		s.order = append(s.order, tabID)
	}
	s.tabs[tabID] = t
	var h *stream.Handle
	var r *loadmore.Round
	if prev != nil {
		h, r = prev.handle, prev.round
	}
	s.mu.Unlock()

	stop(h, r)
	s.results.RemoveTab(tabID)
	return t, t.gen
}

func (s *Session) open(ctx context.Context, t *tab, gen uint64) error {
	token, err := s.backend.Token(ctx)
	if err != nil {
		s.fail(t, gen, err)
		return err
	}

	h, err := s.streamer.OpenSearch(context.WithoutCancel(ctx), stream.Request{
		JobID:  t.searchID,
		Kind:   model.JobKindSearch,
		Path:   api.SearchStreamPath(t.searchID),
		Token:  token,
		UserID: s.userID,
	}, s.backend, stream.SearchHandler{
		OnPlatformResult: func(r model.PlatformResult) { s.onResult(t, gen, r) },
		OnComplete:       func(snap *model.SearchSnapshot) { s.onComplete(t, gen, snap) },
		OnFailure:        func(err error) { s.fail(t, gen, err) },
	})
	if err != nil {
		s.fail(t, gen, err)
		return err
	}

	s.mu.Lock()
	live := s.live(t, gen)
	if live {
		t.handle = h
	}
	s.mu.Unlock()

	if !live {
		h.Abort()
		return nil
	}
	s.changed(t.id)
	return nil
}

// live reports whether callbacks of generation gen may still touch t.
func (s *Session) live(t *tab, gen uint64) bool {
	return s.tabs[t.id] == t && t.gen == gen
}

func (s *Session) onResult(t *tab, gen uint64, r model.PlatformResult) {
	s.mu.Lock()
	if !s.live(t, gen) {
		s.mu.Unlock()
		return
	}
	s.results.IngestResult(t.id, r)
	s.applyStatusLocked(t, r.Platform, model.PlatformStatus{
		Success:    r.Success,
		NextCursor: r.NextCursor,
		Error:      r.Error,
	})
	s.mu.Unlock()

	s.changed(t.id)
}

// onComplete applies the reconciled snapshot, which replaces the items and
// cursors built from events.
func (s *Session) onComplete(t *tab, gen uint64, snap *model.SearchSnapshot) {
	s.mu.Lock()
	if !s.live(t, gen) {
		s.mu.Unlock()
		return
	}
	t.searching = false
	if snap != nil {
		s.results.ReplaceTab(t.id, snap.Results)
		next := make(map[model.Platform]model.Cursor, len(snap.Platforms))
		t.failures = make(map[model.Platform]string)
		for p, st := range snap.Platforms {
			next[p] = st.NextCursor
			if !st.Success {
				t.failures[p] = st.Error
			}
		}
		t.cursors.Replace(next)
	}
	s.mu.Unlock()

	s.logger.Debug("search completed", zap.String("tab_id", t.id), zap.String("search_id", t.searchID))
	s.changed(t.id)
}

func (s *Session) fail(t *tab, gen uint64, err error) {
	s.mu.Lock()
	if !s.live(t, gen) {
		s.mu.Unlock()
		return
	}
	t.err = err
	t.searching = false
	s.mu.Unlock()

	s.logger.Warn("search failed",
		zap.String("tab_id", t.id),
		zap.String("search_id", t.searchID),
		zap.Error(err),
	)
	s.changed(t.id)
}

func (s *Session) applyStatusLocked(t *tab, p model.Platform, st model.PlatformStatus) {
	if !st.Success {
		t.failures[p] = st.Error
		return
	}
	delete(t.failures, p)
	t.cursors.Update(p, st.NextCursor)
}

// LoadMore starts a pagination round for the tab. It fails with
// model.ErrSearchInFlight while the tab's search is still streaming.
func (s *Session) LoadMore(ctx context.Context, tabID string, filters map[model.Platform]model.Filter) (*loadmore.Round, error) {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	var (
		gen       uint64
		streaming bool
	)
	if ok {
		gen = t.gen
		streaming = t.streaming()
	}
	s.mu.Unlock()
	if !ok {
		return nil, model.ErrUnknownTab
	}
	if streaming {
		return nil, model.ErrSearchInFlight
	}

	r, err := s.rounds.Trigger(ctx, loadmore.Target{
		TabID:    tabID,
		SearchID: t.searchID,
		Cursors:  t.cursors,
	}, filters)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	live := s.live(t, gen)
	if live {
		t.round = r
	}
	s.mu.Unlock()

	if !live {
		r.Abort()
	}
	return r, nil
}

// Abort stops the tab's stream and any running round. Results and cursors stay.
func (s *Session) Abort(tabID string) error {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	var h *stream.Handle
	var r *loadmore.Round
	if ok {
		s.gen++
		t.gen = s.gen
		t.searching = false
		h, r = t.handle, t.round
	}
	s.mu.Unlock()

	if !ok {
		return model.ErrUnknownTab
	}
	stop(h, r)
	s.changed(tabID)
	return nil
}

// Close stops the tab and discards its results and cursors.
func (s *Session) Close(tabID string) {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	var h *stream.Handle
	var r *loadmore.Round
	if ok {
		h, r = t.handle, t.round
		delete(s.tabs, tabID)
		for i, id := range s.order {
			if id == tabID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if ok {
		stop(h, r)
		t.cursors.Reset()
		s.results.RemoveTab(tabID)
		s.changed(tabID)
	}
}

// Shutdown closes every tab.
func (s *Session) Shutdown() {
	for _, id := range s.Tabs() {
		s.Close(id)
	}
}

func stop(h *stream.Handle, r *loadmore.Round) {
	if h != nil {
		h.Abort()
	}
	if r != nil {
		r.Abort()
	}
}

// Wait blocks until the tab's search stream and running round end.
func (s *Session) Wait(ctx context.Context, tabID string) error {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	var (
		h *stream.Handle
		r *loadmore.Round
	)
	if ok {
		h, r = t.handle, t.round
	}
	s.mu.Unlock()

	if !ok {
		return model.ErrUnknownTab
	}
	if h != nil {
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	if r != nil {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Tabs returns tab ids in creation order.
func (s *Session) Tabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// TabInfo summarizes one tab.
type TabInfo struct {
	ID          string    `json:"id" yaml:"id"`
	SearchID    string    `json:"search_id" yaml:"search_id"`
	Query       string    `json:"query,omitempty" yaml:"query,omitempty"`
	Items       int       `json:"items" yaml:"items"`
	HasMore     bool      `json:"has_more" yaml:"has_more"`
	Searching   bool      `json:"searching" yaml:"searching"`
	LoadingMore bool      `json:"loading_more" yaml:"loading_more"`
	Job         model.Job `json:"job" yaml:"job"`
}

// Info returns a summary of the tab.
func (s *Session) Info(tabID string) (TabInfo, bool) {
	job, ok := s.Job(tabID)
	if !ok {
		return TabInfo{}, false
	}

	s.mu.Lock()
	t, ok := s.tabs[tabID]
	var streaming bool
	if ok {
		streaming = t.streaming()
	}
	s.mu.Unlock()
	if !ok {
		return TabInfo{}, false
	}

	return TabInfo{
		ID:          tabID,
		SearchID:    t.searchID,
		Query:       t.query,
		Items:       s.results.Len(tabID),
		HasMore:     t.cursors.HasMore(),
		Searching:   streaming,
		LoadingMore: s.rounds.InFlight(tabID),
		Job:         job,
	}, true
}

// Results returns the tab's items in arrival order.
func (s *Session) Results(tabID string) []model.ContentItem {
	return s.results.Tab(tabID)
}

// Merged returns every tab's items, deduplicated.
func (s *Session) Merged() []model.ContentItem {
	return s.results.Merged()
}

// View returns the tab's items filtered and sorted, leaving the stored order intact.
func (s *Session) View(tabID string, f aggregate.Filter, o aggregate.Sort) []model.ContentItem {
	return aggregate.Apply(s.results.Tab(tabID), f, o)
}

// HasMore reports whether the tab can page further.
func (s *Session) HasMore(tabID string) bool {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	s.mu.Unlock()
	return ok && t.cursors.HasMore()
}

// LoadingMore reports whether a pagination round is running for the tab.
func (s *Session) LoadingMore(tabID string) bool {
	return s.rounds.InFlight(tabID)
}

// Job returns the state of the tab's search stream.
func (s *Session) Job(tabID string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[tabID]
	if !ok {
		return model.Job{}, false
	}
	if t.handle == nil {
		job := model.Job{ID: t.searchID, Kind: model.JobKindSearch, Status: model.JobStatusPending, UserID: s.userID}
		if t.err != nil {
			job.Status = model.JobStatusFailed
			job.Error = model.UserMessage(t.err)
		}
		return job, true
	}
	return t.handle.Job(), true
}

// Err returns the tab's job-level failure, if any.
func (s *Session) Err(tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tabs[tabID]; ok {
		return t.err
	}
	return nil
}

// PlatformErrors returns the platforms that failed in the tab, with their messages.
func (s *Session) PlatformErrors(tabID string) map[model.Platform]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[tabID]
	if !ok {
		return nil
	}
	out := make(map[model.Platform]string, len(t.failures))
	for p, msg := range t.failures {
		out[p] = msg
	}
	return out
}

// FailedPlatforms returns the failed platforms of the tab, sorted.
func (s *Session) FailedPlatforms(tabID string) []model.Platform {
	errs := s.PlatformErrors(tabID)
	out := make([]model.Platform, 0, len(errs))
	for p := range errs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Session) changed(tabID string) {
	if s.onChange != nil {
		s.onChange(tabID)
	}
}
