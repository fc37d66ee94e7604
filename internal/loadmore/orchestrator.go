// Package loadmore runs pagination rounds: one request carrying every live
// cursor of a tab, then the round's result stream.
package loadmore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/aggregate"
	"github.com/conthunt/streamcore/internal/api"
	"github.com/conthunt/streamcore/internal/cursor"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/stream"
	"github.com/conthunt/streamcore/pkg/logger"
	"github.com/conthunt/streamcore/pkg/metrics"
)

// Backend is the part of the API client a round needs.
type Backend interface {
	stream.Snapshotter
	Token(ctx context.Context) (string, error)
	RequestMore(ctx context.Context, searchID string, req *model.LoadMoreRequest) error
}

// Streamer opens load-more streams.
type Streamer interface {
	OpenSearch(ctx context.Context, req stream.Request, snap stream.Snapshotter, handler stream.SearchHandler) (*stream.Handle, error)
}

// Target is the tab a round pages.
type Target struct {
	TabID    string
	SearchID string
	Cursors  *cursor.Store
}

// Options configures an Orchestrator.
type Options struct {
	Backend  Backend
	Streamer Streamer
	Results  *aggregate.Aggregator
	Logger   *logger.Logger

	// OnUpdate fires after each ingested batch and when a round ends.
	OnUpdate func(tabID string)
}

// Orchestrator runs at most one round per tab.
type Orchestrator struct {
	backend  Backend
	streamer Streamer
	results  *aggregate.Aggregator
	logger   *logger.Logger
	onUpdate func(string)

	mu       sync.Mutex
	inflight map[string]*Round
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		backend:  opts.Backend,
		streamer: opts.Streamer,
		results:  opts.Results,
		logger:   opts.Logger.OrNop(),
		onUpdate: opts.OnUpdate,
		inflight: make(map[string]*Round),
	}
}

// InFlight reports whether a round is running for the tab.
func (o *Orchestrator) InFlight(tabID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[tabID]
	return ok
}

// Trigger starts a round for the tab. Without eligible cursors it returns a
// finished no-op round and makes no request. A second round for a tab that
// already has one running fails with model.ErrLoadMoreInFlight.
func (o *Orchestrator) Trigger(ctx context.Context, t Target, filters map[model.Platform]model.Filter) (*Round, error) {
	if t.Cursors == nil {
		return nil, errors.New("target without cursor store")
	}

	eligible := t.Cursors.Eligible()
	if len(eligible) == 0 {
		metrics.LoadMoreRoundsTotal.WithLabelValues("noop").Inc()
		return noopRound(t), nil
	}

	r := newRound(t, eligible)

	o.mu.Lock()
	if _, busy := o.inflight[t.TabID]; busy {
		o.mu.Unlock()
		metrics.LoadMoreRoundsTotal.WithLabelValues("rejected").Inc()
		return nil, model.ErrLoadMoreInFlight
	}
	o.inflight[t.TabID] = r
	o.mu.Unlock()

	log := o.logger.With(
		zap.String("tab_id", t.TabID),
		zap.String("search_id", t.SearchID),
		zap.Int("platforms", len(eligible)),
	)

	if err := o.start(ctx, r, filters, log); err != nil {
		o.finish(r, err, log)
		return nil, err
	}

	log.Debug("load more round started")
	return r, nil
}

func (o *Orchestrator) start(ctx context.Context, r *Round, filters map[model.Platform]model.Filter, log *logger.Logger) error {
	token, err := o.backend.Token(ctx)
	if err != nil {
		return err
	}

	if err := o.backend.RequestMore(ctx, r.SearchID, &model.LoadMoreRequest{
		Cursors: r.sent,
		Filters: filters,
	}); err != nil {
		return fmt.Errorf("failed to request more results: %w", err)
	}

	h, err := o.streamer.OpenSearch(ctx, stream.Request{
		JobID: r.SearchID,
		Kind:  model.JobKindLoadMore,
		Path:  api.MoreStreamPath(r.SearchID),
		Token: token,
	}, o.backend, stream.SearchHandler{
		OnPlatformResult: func(res model.PlatformResult) { o.ingest(r, res) },
		OnComplete:       func(snap *model.SearchSnapshot) { o.complete(r, snap, log) },
		OnFailure:        func(err error) { o.finish(r, err, log) },
	})
	if err != nil {
		return err
	}

	r.abort = func() {
		if !r.beginAbort() {
			return
		}
		h.Abort()
		o.finish(r, context.Canceled, log)
	}
	return nil
}

func (o *Orchestrator) ingest(r *Round, res model.PlatformResult) {
	recorded := r.record(res, func() int {
		return o.results.IngestResult(r.TabID, res)
	})
	if recorded {
		o.notify(r.TabID)
	}
}

// complete writes the round's terminal cursors for the platforms it paged and,
// when reconciliation succeeded, replaces the tab's items with the snapshot.
// The write and the close happen under one lock so an abort that has begun
// wins.
func (o *Orchestrator) complete(r *Round, snap *model.SearchSnapshot, log *logger.Logger) {
	r.mu.Lock()
	if r.finished || r.aborting {
		r.mu.Unlock()
		return
	}
	r.Cursors.ReplaceFor(r.Platforms(), r.terminalCursorsLocked(snap))
	if snap != nil {
		o.results.ReplaceTab(r.TabID, snap.Results)
	}
	closed := r.closeLocked(nil, r.Cursors.HasMore())
	r.mu.Unlock()

	if closed {
		o.settle(r, nil, log)
	}
}

func (o *Orchestrator) finish(r *Round, err error, log *logger.Logger) {
	if r.close(err, r.Cursors.HasMore()) {
		o.settle(r, err, log)
	}
}

// settle releases the tab and reports a closed round.
func (o *Orchestrator) settle(r *Round, err error, log *logger.Logger) {
	o.mu.Lock()
	if o.inflight[r.TabID] == r {
		delete(o.inflight, r.TabID)
	}
	o.mu.Unlock()

	switch {
	case err == nil:
		metrics.LoadMoreRoundsTotal.WithLabelValues("completed").Inc()
		log.Debug("load more round completed", zap.Int("added", r.Added()))
	case errors.Is(err, context.Canceled):
		metrics.LoadMoreRoundsTotal.WithLabelValues("aborted").Inc()
	default:
		metrics.LoadMoreRoundsTotal.WithLabelValues("failed").Inc()
		log.Warn("load more round failed", zap.Error(err))
	}
	o.notify(r.TabID)
}

func (o *Orchestrator) notify(tabID string) {
	if o.onUpdate != nil {
		o.onUpdate(tabID)
	}
}

// PlatformOutcome is one platform's result within a round.
type PlatformOutcome struct {
	Platform model.Platform `json:"platform" yaml:"platform"`
	Success  bool           `json:"success" yaml:"success"`
	Added    int            `json:"added" yaml:"added"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Round is one pagination round.
type Round struct {
	Target

	sent  map[model.Platform]model.Cursor
	done  chan struct{}
	abort func()

	mu       sync.Mutex
	finished bool
	aborting bool
	noop     bool
	err      error
	added    int
	hasMore  bool
	observed map[model.Platform]model.Cursor
	outcomes map[model.Platform]PlatformOutcome
}

func newRound(t Target, sent map[model.Platform]model.Cursor) *Round {
	return &Round{
		Target:   t,
		sent:     sent,
		done:     make(chan struct{}),
		observed: make(map[model.Platform]model.Cursor),
		outcomes: make(map[model.Platform]PlatformOutcome),
	}
}

func noopRound(t Target) *Round {
	r := newRound(t, nil)
	r.noop = true
	r.finished = true
	close(r.done)
	return r
}

// Noop reports whether the round had nothing to fetch.
func (r *Round) Noop() bool {
	return r.noop
}

// Platforms returns the platforms the round asked for, sorted.
func (r *Round) Platforms() []model.Platform {
	out := make([]model.Platform, 0, len(r.sent))
	for p := range r.sent {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Done is closed when the round ends.
func (r *Round) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the round ends and returns its error.
func (r *Round) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort stops the round. Cursors and items are left as the round's batches
// so far made them.
func (r *Round) Abort() {
	if r.abort != nil {
		r.abort()
	}
}

// Err returns the round's failure, if any.
func (r *Round) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Added returns the number of new items the round contributed.
func (r *Round) Added() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.added
}

// HasMore reports whether the tab can page further after the round.
func (r *Round) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

// Outcomes returns per-platform results in platform order.
func (r *Round) Outcomes() []PlatformOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PlatformOutcome, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// record applies one batch unless the round has ended. Holding the round
// lock across ingest keeps an aborted round from writing to the tab.
func (r *Round) record(res model.PlatformResult, ingest func() int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.aborting {
		return false
	}

	added := ingest()
	r.added += added
	o := r.outcomes[res.Platform]
	o.Platform = res.Platform
	o.Success = res.Success
	o.Added += added
	o.Error = res.Error
	r.outcomes[res.Platform] = o

	if res.Success {
		r.observed[res.Platform] = res.NextCursor
	} else if prev, ok := r.sent[res.Platform]; ok {
		r.observed[res.Platform] = prev
	}
	return true
}

// terminalCursorsLocked picks the cursor set the tab holds after the round.
// The snapshot's platform statuses win; otherwise the cursors carried by the
// round's events. A platform that failed keeps the cursor it was sent with.
func (r *Round) terminalCursorsLocked(snap *model.SearchSnapshot) map[model.Platform]model.Cursor {
	if snap == nil || len(snap.Platforms) == 0 {
		out := make(map[model.Platform]model.Cursor, len(r.observed))
		for p, c := range r.observed {
			out[p] = c
		}
		return out
	}

	out := make(map[model.Platform]model.Cursor, len(snap.Platforms))
	for p, st := range snap.Platforms {
		switch {
		case st.Success:
			out[p] = st.NextCursor
		case model.CursorLive(st.NextCursor):
			out[p] = st.NextCursor
		default:
			if prev, ok := r.sent[p]; ok {
				out[p] = prev
			}
		}
	}
	return out
}

// beginAbort stops the round from writing to the tab. It reports false when
// the round already ended.
func (r *Round) beginAbort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.aborting {
		return false
	}
	r.aborting = true
	return true
}

func (r *Round) close(err error, hasMore bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked(err, hasMore)
}

func (r *Round) closeLocked(err error, hasMore bool) bool {
	if r.finished {
		return false
	}
	if r.aborting {
		err = context.Canceled
	}
	r.finished = true
	r.err = err
	r.hasMore = hasMore
	close(r.done)
	return true
}
