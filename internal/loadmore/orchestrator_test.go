package loadmore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conthunt/streamcore/internal/aggregate"
	"github.com/conthunt/streamcore/internal/cursor"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/stream"
)

type fakeBackend struct {
	mu       sync.Mutex
	requests []model.LoadMoreRequest
	snap     *model.SearchSnapshot
	snapErr  error

	// When set, Snapshot signals snapEntered and blocks until snapGate closes.
	snapEntered chan struct{}
	snapGate    chan struct{}
}

func (f *fakeBackend) Token(context.Context) (string, error) { return "tok", nil }

func (f *fakeBackend) RequestMore(_ context.Context, searchID string, req *model.LoadMoreRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
	return nil
}

func (f *fakeBackend) Snapshot(context.Context, string) (*model.SearchSnapshot, error) {
	if f.snapGate != nil {
		close(f.snapEntered)
		<-f.snapGate
	}
	if f.snap == nil && f.snapErr == nil {
		return nil, fmt.Errorf("no snapshot")
	}
	return f.snap, f.snapErr
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func moreServer(t *testing.T, hold <-chan struct{}, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/s1/more/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
	}))
}

func raw(s string) model.Cursor {
	return model.Cursor(s)
}

func setup(t *testing.T, baseURL string, backend *fakeBackend) (*Orchestrator, *aggregate.Aggregator, Target) {
	t.Helper()
	results := aggregate.New()
	results.Ingest("tab", []model.ContentItem{
		{ID: "a", Platform: model.PlatformTikTok},
		{ID: "b", Platform: model.PlatformTikTok},
	})
	store := cursor.NewStore()
	store.Update(model.PlatformTikTok, raw(`"c1"`))

	o := New(Options{
		Backend:  backend,
		Streamer: stream.NewConsumer(stream.Options{BaseURL: baseURL}),
		Results:  results,
	})
	return o, results, Target{TabID: "tab", SearchID: "s1", Cursors: store}
}

func waitRound(t *testing.T, r *Round) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-r.Done():
	case <-ctx.Done():
		t.Fatal("round did not finish")
	}
	return r.Err()
}

func ids(items []model.ContentItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestTrigger_NoEligibleCursorsIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	o, results, target := setup(t, "http://127.0.0.1:1", backend)
	target.Cursors.Reset()

	r, err := o.Trigger(context.Background(), target, nil)
	require.NoError(t, err)
	assert.True(t, r.Noop())
	assert.NoError(t, waitRound(t, r))
	assert.False(t, r.HasMore())
	assert.Zero(t, backend.calls())
	assert.Equal(t, []string{"a", "b"}, ids(results.Tab("tab")))
}

func TestTrigger_MergesAndReplacesCursors(t *testing.T) {
	srv := moreServer(t, nil,
		`{"type":"platform_result","platform":"tiktok","success":true,"items":[{"id":"b"},{"id":"c"}],"next_cursor":"c2"}`,
		`{"type":"done"}`,
	)
	defer srv.Close()

	backend := &fakeBackend{}
	o, results, target := setup(t, srv.URL, backend)

	r, err := o.Trigger(context.Background(), target, map[model.Platform]model.Filter{
		model.PlatformTikTok: {"min_views": 10},
	})
	require.NoError(t, err)
	require.NoError(t, waitRound(t, r))

	assert.Equal(t, []string{"a", "b", "c"}, ids(results.Merged()))
	assert.Equal(t, 1, r.Added())
	assert.True(t, r.HasMore())

	c, ok := target.Cursors.Get(model.PlatformTikTok)
	require.True(t, ok)
	assert.Equal(t, `"c2"`, string(c))

	require.Len(t, backend.requests, 1)
	assert.JSONEq(t, `"c1"`, string(backend.requests[0].Cursors[model.PlatformTikTok]))
	assert.Equal(t, 10, backend.requests[0].Filters[model.PlatformTikTok]["min_views"])

	outcomes := r.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, PlatformOutcome{Platform: model.PlatformTikTok, Success: true, Added: 1}, outcomes[0])
	assert.False(t, o.InFlight("tab"))
}

func TestTrigger_MissingCursorExhaustsPlatform(t *testing.T) {
	srv := moreServer(t, nil,
		`{"type":"platform_result","platform":"tiktok","success":true,"items":[{"id":"c"}]}`,
		`{"type":"platform_result","platform":"instagram","success":true,"items":[{"id":"i"}],"next_cursor":"ig"}`,
		`{"type":"done"}`,
	)
	defer srv.Close()

	o, _, target := setup(t, srv.URL, &fakeBackend{})
	r, err := o.Trigger(context.Background(), target, nil)
	require.NoError(t, err)
	require.NoError(t, waitRound(t, r))

	assert.False(t, target.Cursors.HasMore())
	assert.False(t, r.HasMore())
	_, ok := target.Cursors.Get(model.PlatformInstagram)
	assert.False(t, ok)
}

func TestTrigger_SnapshotIsAuthoritative(t *testing.T) {
	srv := moreServer(t, nil,
		`{"type":"platform_result","platform":"tiktok","success":true,"items":[{"id":"c"}],"next_cursor":"from-event"}`,
		`{"type":"done"}`,
	)
	defer srv.Close()

	backend := &fakeBackend{snap: &model.SearchSnapshot{
		ID: "s1",
		Platforms: map[model.Platform]model.PlatformStatus{
			model.PlatformTikTok:  {Success: true, NextCursor: raw(`{"page":3}`)},
			model.PlatformYouTube: {Success: false, Error: "quota"},
		},
		Results: []model.ContentItem{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
	}}
	o, results, target := setup(t, srv.URL, backend)

	r, err := o.Trigger(context.Background(), target, nil)
	require.NoError(t, err)
	require.NoError(t, waitRound(t, r))

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(results.Tab("tab")))
	c, ok := target.Cursors.Get(model.PlatformTikTok)
	require.True(t, ok)
	assert.JSONEq(t, `{"page":3}`, string(c))
	assert.Equal(t, []model.Platform{model.PlatformTikTok}, target.Cursors.Platforms())
}

func TestTrigger_FailedPlatformKeepsCursor(t *testing.T) {
	srv := moreServer(t, nil,
		`{"type":"platform_result","platform":"tiktok","success":false,"error":"rate limited"}`,
		`{"type":"done"}`,
	)
	defer srv.Close()

	o, _, target := setup(t, srv.URL, &fakeBackend{})
	r, err := o.Trigger(context.Background(), target, nil)
	require.NoError(t, err)
	require.NoError(t, waitRound(t, r))

	c, ok := target.Cursors.Get(model.PlatformTikTok)
	require.True(t, ok)
	assert.Equal(t, `"c1"`, string(c))
	assert.Equal(t, "rate limited", r.Outcomes()[0].Error)
}

func TestTrigger_RejectsOverlappingRound(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := moreServer(t, hold, `{"type":"done"}`)
	defer srv.Close()

	backend := &fakeBackend{}
	o, _, target := setup(t, srv.URL, backend)

	first, err := o.Trigger(context.Background(), target, nil)
	require.NoError(t, err)
	assert.True(t, o.InFlight("tab"))

	_, err = o.Trigger(context.Background(), target, nil)
	assert.ErrorIs(t, err, model.ErrLoadMoreInFlight)
	assert.Equal(t, 1, backend.calls())

	first.Abort()
	assert.ErrorIs(t, waitRound(t, first), context.Canceled)
	assert.False(t, o.InFlight("tab"))

	c, ok := target.Cursors.Get(model.PlatformTikTok)
	require.True(t, ok)
	assert.Equal(t, `"c1"`, string(c))
}

func TestTrigger_StreamErrorLeavesCursors(t *testing.T) {
	srv := moreServer(t, nil,
		`{"type":"platform_result","platform":"tiktok","success":true,"items":[{"id":"c"}]}`,
		`{"type":"error","error":"backend exploded"}`,
	)
	defer srv.Close()

	o, results, target := setup(t, srv.URL, &fakeBackend{})
	r, err := o.Trigger(context.Background(), target, nil)
	require.NoError(t, err)

	rerr := waitRound(t, r)
	var streamErr *model.StreamError
	require.ErrorAs(t, rerr, &streamErr)

	c, ok := target.Cursors.Get(model.PlatformTikTok)
	require.True(t, ok)
	assert.Equal(t, `"c1"`, string(c))
	assert.Equal(t, []string{"a", "b", "c"}, ids(results.Tab("tab")), "items seen before the failure stay")
	assert.True(t, r.HasMore())
}

func TestTrigger_LeavesUnsentPlatformCursors(t *testing.T) {
	hold := make(chan struct{})
	srv := moreServer(t, hold,
		`{"type":"platform_result","platform":"tiktok","success":true,"items":[{"id":"c"}]}`,
		`{"type":"done"}`,
	)
	defer srv.Close()

	o, _, target := setup(t, srv.URL, &fakeBackend{})
	r, err := o.Trigger(context.Background(), target, nil)
	require.NoError(t, err)

	// A cursor arriving from elsewhere while the round runs.
	target.Cursors.Update(model.PlatformYouTube, raw(`"y1"`))
	close(hold)
	require.NoError(t, waitRound(t, r))

	assert.Equal(t, []model.Platform{model.PlatformTikTok}, r.Platforms())
	assert.Equal(t, []model.Platform{model.PlatformYouTube}, target.Cursors.Platforms())
	assert.True(t, r.HasMore())
}

func TestRound_AbortDuringSlowSnapshot(t *testing.T) {
	srv := moreServer(t, nil,
		`{"type":"platform_result","platform":"tiktok","success":true,"items":[{"id":"c"}],"next_cursor":"c2"}`,
		`{"type":"done"}`,
	)
	defer srv.Close()

	backend := &fakeBackend{
		snap: &model.SearchSnapshot{
			ID:        "s1",
			Platforms: map[model.Platform]model.PlatformStatus{model.PlatformTikTok: {Success: true}},
			Results:   []model.ContentItem{{ID: "x"}},
		},
		snapEntered: make(chan struct{}),
		snapGate:    make(chan struct{}),
	}
	o, results, target := setup(t, srv.URL, backend)

	r, err := o.Trigger(context.Background(), target, nil)
	require.NoError(t, err)
	<-backend.snapEntered

	aborted := make(chan struct{})
	go func() {
		r.Abort()
		close(aborted)
	}()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.aborting
	}, 5*time.Second, time.Millisecond)
	close(backend.snapGate)
	<-aborted

	assert.ErrorIs(t, waitRound(t, r), context.Canceled)
	assert.Equal(t, []string{"a", "b", "c"}, ids(results.Tab("tab")), "snapshot items are not applied")
	c, ok := target.Cursors.Get(model.PlatformTikTok)
	require.True(t, ok)
	assert.Equal(t, `"c1"`, string(c))
	assert.False(t, o.InFlight("tab"))
}

func TestRound_CompleteLosesToStartedAbort(t *testing.T) {
	o, results, target := setup(t, "http://127.0.0.1:1", &fakeBackend{})
	r := newRound(target, target.Cursors.Eligible())
	require.True(t, r.beginAbort())

	o.complete(r, &model.SearchSnapshot{
		Platforms: map[model.Platform]model.PlatformStatus{model.PlatformTikTok: {Success: true}},
		Results:   []model.ContentItem{{ID: "x"}},
	}, o.logger)

	select {
	case <-r.Done():
		t.Fatal("complete closed an aborting round")
	default:
	}
	assert.Equal(t, []string{"a", "b"}, ids(results.Tab("tab")))
	assert.True(t, target.Cursors.HasMore())

	o.finish(r, errors.New("late stream failure"), o.logger)
	assert.ErrorIs(t, waitRound(t, r), context.Canceled)
}

func TestRound_Platforms(t *testing.T) {
	r := newRound(Target{}, map[model.Platform]model.Cursor{
		model.PlatformYouTube: json.RawMessage(`1`),
		model.PlatformTikTok:  json.RawMessage(`2`),
	})
	assert.Equal(t, []model.Platform{model.PlatformTikTok, model.PlatformYouTube}, r.Platforms())
}
