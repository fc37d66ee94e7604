package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conthunt/streamcore/internal/llm"
	"github.com/conthunt/streamcore/internal/model"
)

func testCatalog() Catalog {
	return Catalog{PageSize: 3, TotalPages: 3}
}

func collect(t *testing.T, fn func(emit func(model.PlatformResult) error) error) []model.PlatformResult {
	t.Helper()
	var out []model.PlatformResult
	require.NoError(t, fn(func(res model.PlatformResult) error {
		out = append(out, res)
		return nil
	}))
	return out
}

func TestCatalog_PagesOverlapByOne(t *testing.T) {
	c := testCatalog()

	first, next := c.Page("cats", model.PlatformTikTok, 0)
	require.Len(t, first, 3)
	assert.JSONEq(t, `{"page":1}`, string(next))

	second, next := c.Page("cats", model.PlatformTikTok, 1)
	require.Len(t, second, 4)
	assert.Equal(t, first[2].ID, second[0].ID)
	assert.JSONEq(t, `{"page":2}`, string(next))

	_, next = c.Page("cats", model.PlatformTikTok, 2)
	assert.False(t, model.CursorLive(next))

	again, _ := c.Page("cats", model.PlatformTikTok, 0)
	assert.Equal(t, first, again)
}

func TestCatalog_ParseCursor(t *testing.T) {
	c := testCatalog()

	page, err := c.ParseCursor(model.Cursor(`{"page":2}`))
	require.NoError(t, err)
	assert.Equal(t, 2, page)

	for _, bad := range []string{`{"page":0}`, `{"page":3}`, `"x"`, `null`} {
		_, err := c.ParseCursor(model.Cursor(bad))
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestSearchService_StartAndStream(t *testing.T) {
	ctx := context.Background()
	svc := NewSearchService(testCatalog(), 0, nil)

	resp, err := svc.Start(ctx, "u1", &model.SearchRequest{
		Query:     "cats",
		Platforms: []model.Platform{model.PlatformTikTok, model.PlatformYouTube, model.PlatformTikTok},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SearchID)
	assert.Len(t, resp.Results, 3)
	assert.True(t, resp.Platforms[model.PlatformTikTok].Success)

	results := collect(t, func(emit func(model.PlatformResult) error) error {
		return svc.Stream(ctx, "u1", resp.SearchID, emit)
	})
	require.Len(t, results, 2)
	assert.Equal(t, model.PlatformTikTok, results[0].Platform)
	assert.Equal(t, model.PlatformYouTube, results[1].Platform)

	snap, err := svc.Snapshot(ctx, "u1", resp.SearchID)
	require.NoError(t, err)
	assert.Equal(t, "completed", snap.Status)
	assert.Len(t, snap.Results, 6)

	replay := collect(t, func(emit func(model.PlatformResult) error) error {
		return svc.Stream(ctx, "u1", resp.SearchID, emit)
	})
	assert.Equal(t, results, replay)
}

func TestSearchService_OwnerScoped(t *testing.T) {
	ctx := context.Background()
	svc := NewSearchService(testCatalog(), 0, nil)

	resp, err := svc.Start(ctx, "u1", &model.SearchRequest{Query: "cats"})
	require.NoError(t, err)

	_, err = svc.Snapshot(ctx, "u2", resp.SearchID)
	assert.ErrorIs(t, err, ErrSearchNotFound)
	assert.True(t, IsNotFound(err))
}

func TestSearchService_LoadMore(t *testing.T) {
	ctx := context.Background()
	svc := NewSearchService(testCatalog(), 0, nil)

	resp, err := svc.Start(ctx, "u1", &model.SearchRequest{
		Query:     "dogs",
		Platforms: []model.Platform{model.PlatformTikTok, model.PlatformYouTube},
		Filters: map[model.Platform]model.Filter{
			model.PlatformYouTube: {SimulateErrorFilter: true},
		},
	})
	require.NoError(t, err)
	collect(t, func(emit func(model.PlatformResult) error) error {
		return svc.Stream(ctx, "u1", resp.SearchID, emit)
	})

	snap, err := svc.Snapshot(ctx, "u1", resp.SearchID)
	require.NoError(t, err)
	assert.False(t, snap.Platforms[model.PlatformYouTube].Success)
	assert.NotEmpty(t, snap.Platforms[model.PlatformYouTube].Error)

	err = svc.MoreStream(ctx, "u1", resp.SearchID, func(model.PlatformResult) error { return nil })
	assert.ErrorIs(t, err, ErrNoRound)

	err = svc.RequestMore(ctx, "u1", resp.SearchID, &model.LoadMoreRequest{
		Cursors: map[model.Platform]model.Cursor{model.PlatformTikTok: model.Cursor(`{"page":9}`)},
	})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	require.NoError(t, svc.RequestMore(ctx, "u1", resp.SearchID, &model.LoadMoreRequest{
		Cursors: map[model.Platform]model.Cursor{model.PlatformTikTok: snap.Platforms[model.PlatformTikTok].NextCursor},
	}))
	more := collect(t, func(emit func(model.PlatformResult) error) error {
		return svc.MoreStream(ctx, "u1", resp.SearchID, emit)
	})
	require.Len(t, more, 1)
	assert.Len(t, more[0].Items, 4)
	assert.JSONEq(t, `{"page":2}`, string(more[0].NextCursor))

	snap, err = svc.Snapshot(ctx, "u1", resp.SearchID)
	require.NoError(t, err)
	// One item of the second page repeats the first.
	assert.Len(t, snap.Results, 6)
}

func TestSearchIntent(t *testing.T) {
	tests := []struct {
		in    string
		query string
		ok    bool
	}{
		{"search for cooking videos", "cooking videos", true},
		{"Find Cats", "Cats", true},
		{"search ", "", false},
		{"what is trending?", "", false},
	}
	for _, tt := range tests {
		q, ok := searchIntent(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.query, q, tt.in)
	}
}

func TestChatService_StreamsReplyWithSearchTool(t *testing.T) {
	ctx := context.Background()
	searches := NewSearchService(testCatalog(), 0, nil)
	svc := NewChatService(llm.NewScriptedClient(0), searches, "", nil)

	require.NoError(t, svc.Send(ctx, "u1", "c1", &model.SendChatRequest{MessageID: "m1", Content: "find cats"}))

	var frames []ChatFrame
	require.NoError(t, svc.Stream(ctx, "u1", "c1", func(f ChatFrame) error {
		frames = append(frames, f)
		return nil
	}))
	require.GreaterOrEqual(t, len(frames), 4)

	assert.Equal(t, "tool_call", frames[0].Type)
	assert.False(t, frames[0].HasResult)
	assert.Equal(t, "tool_call", frames[1].Type)
	require.True(t, frames[1].HasResult)

	var result SearchToolResult
	require.NoError(t, json.Unmarshal(frames[1].Result, &result))
	assert.Equal(t, "cats", result.Query)
	_, err := searches.Snapshot(ctx, "u1", result.SearchID)
	assert.NoError(t, err)

	var text string
	for _, f := range frames[2 : len(frames)-1] {
		require.NotNil(t, f.Content)
		text += *f.Content
	}
	assert.Equal(t, `You asked about "find cats". Here is what I can tell you.`, text)

	last := frames[len(frames)-1]
	assert.Equal(t, "done", last.Type)
	assert.NotEmpty(t, last.MessageID)

	err = svc.Stream(ctx, "u1", "c1", func(ChatFrame) error { return nil })
	assert.ErrorIs(t, err, ErrNoTurn)
}

func TestChatService_OwnerScoped(t *testing.T) {
	ctx := context.Background()
	svc := NewChatService(llm.NewScriptedClient(0), NewSearchService(testCatalog(), 0, nil), "", nil)

	require.NoError(t, svc.Send(ctx, "u1", "c1", &model.SendChatRequest{Content: "hi"}))
	assert.ErrorIs(t, svc.Send(ctx, "u2", "c1", &model.SendChatRequest{Content: "hi"}), ErrChatNotFound)

	err := svc.Stream(ctx, "u2", "c1", func(ChatFrame) error { return nil })
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatFrame_DecodesOnClient(t *testing.T) {
	token := "hello"
	data, err := json.Marshal(ChatFrame{Content: &token})
	require.NoError(t, err)

	ev, err := model.DecodeChatEvent(data)
	require.NoError(t, err)
	assert.Equal(t, model.DeltaEvent{Content: "hello"}, ev)

	data, err = json.Marshal(ChatFrame{Type: "done", MessageID: "m9"})
	require.NoError(t, err)
	ev, err = model.DecodeChatEvent(data)
	require.NoError(t, err)
	assert.Equal(t, model.ChatDoneEvent{MessageID: "m9"}, ev)
}
