package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSearchEvent(t *testing.T) {
	t.Run("platform result", func(t *testing.T) {
		ev, err := DecodeSearchEvent([]byte(`{"type":"platform_result","platform":"tiktok","success":true,"items":[{"id":"a","platform":"tiktok"}],"next_cursor":{"offset":10}}`))
		require.NoError(t, err)

		pr, ok := ev.(PlatformResultEvent)
		require.True(t, ok)
		assert.Equal(t, PlatformTikTok, pr.Result.Platform)
		assert.True(t, pr.Result.Success)
		require.Len(t, pr.Result.Items, 1)
		assert.Equal(t, "a", pr.Result.Items[0].ID)
		assert.JSONEq(t, `{"offset":10}`, string(pr.Result.NextCursor))
	})

	t.Run("failed platform keeps error", func(t *testing.T) {
		ev, err := DecodeSearchEvent([]byte(`{"type":"platform_result","platform":"youtube","success":false,"error":"quota"}`))
		require.NoError(t, err)
		pr := ev.(PlatformResultEvent)
		assert.False(t, pr.Result.Success)
		assert.Equal(t, "quota", pr.Result.Error)
		assert.Empty(t, pr.Result.Items)
	})

	t.Run("done", func(t *testing.T) {
		ev, err := DecodeSearchEvent([]byte(`{"type":"done"}`))
		require.NoError(t, err)
		assert.IsType(t, SearchDoneEvent{}, ev)
	})

	t.Run("error", func(t *testing.T) {
		ev, err := DecodeSearchEvent([]byte(`{"type":"error","error":"backend down"}`))
		require.NoError(t, err)
		assert.Equal(t, SearchErrorEvent{Message: "backend down"}, ev)
	})

	t.Run("error without message", func(t *testing.T) {
		ev, err := DecodeSearchEvent([]byte(`{"type":"error"}`))
		require.NoError(t, err)
		assert.Equal(t, SearchErrorEvent{Message: "search failed"}, ev)
	})

	for name, payload := range map[string]string{
		"malformed json":   `{"type":`,
		"unknown type":     `{"type":"progress"}`,
		"missing platform": `{"type":"platform_result","success":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSearchEvent([]byte(payload))
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, payload, perr.Payload)
		})
	}
}

func TestDecodeChatEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    ChatEvent
	}{
		{"untyped delta", `{"content":"Hel"}`, DeltaEvent{Content: "Hel"}},
		{"typed delta", `{"type":"delta","content":"lo"}`, DeltaEvent{Content: "lo"}},
		{"empty delta", `{"content":""}`, DeltaEvent{Content: ""}},
		{"done", `{"type":"done","message_id":"m1"}`, ChatDoneEvent{MessageID: "m1"}},
		{"error", `{"type":"error","error":"boom"}`, ChatErrorEvent{Message: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeChatEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("tool call", func(t *testing.T) {
		got, err := DecodeChatEvent([]byte(`{"type":"tool_call","id":"t1","name":"search","hasResult":true,"result":"R"}`))
		require.NoError(t, err)
		tool := got.(ToolEvent)
		assert.Equal(t, "search", tool.Call.Name)
		assert.True(t, tool.Call.HasResult)
		assert.Equal(t, "R", tool.Call.ResultText())
	})

	t.Run("protocol errors", func(t *testing.T) {
		for _, payload := range []string{`nope`, `{"type":"delta"}`, `{"type":"tool_call"}`, `{"type":"mystery"}`} {
			_, err := DecodeChatEvent([]byte(payload))
			var perr *ProtocolError
			assert.ErrorAs(t, err, &perr, payload)
		}
	})
}

func TestCursorLive(t *testing.T) {
	assert.False(t, CursorLive(nil))
	assert.False(t, CursorLive(Cursor("")))
	assert.False(t, CursorLive(Cursor("null")))
	assert.False(t, CursorLive(Cursor("  null ")))
	assert.True(t, CursorLive(Cursor(`"c1"`)))
	assert.True(t, CursorLive(Cursor(`{"page":2}`)))
}

func TestCursorLive_DecodedNull(t *testing.T) {
	var r PlatformResult
	require.NoError(t, json.Unmarshal([]byte(`{"platform":"tiktok","next_cursor":null}`), &r))
	assert.False(t, CursorLive(r.NextCursor))
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "", StreamingToolCall{}.ResultText())
	assert.Equal(t, "R", StreamingToolCall{Result: json.RawMessage(`"R"`)}.ResultText())
	assert.Equal(t, `{"search_id":"s1"}`, StreamingToolCall{Result: json.RawMessage(`{"search_id":"s1"}`)}.ResultText())
}

func TestParsePlatform(t *testing.T) {
	p, ok := ParsePlatform(" TikTok ")
	assert.True(t, ok)
	assert.Equal(t, PlatformTikTok, p)

	_, ok = ParsePlatform("myspace")
	assert.False(t, ok)
}

func TestEngagementRate(t *testing.T) {
	assert.Zero(t, ItemMetrics{Likes: 5}.EngagementRate())
	assert.InDelta(t, 0.3, ItemMetrics{Views: 100, Likes: 20, Comments: 5, Shares: 5}.EngagementRate(), 1e-9)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusStreaming.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusAborted.Terminal())
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("dial refused")

	assert.ErrorIs(t, &TransportError{Op: "connect", Err: base}, base)
	assert.ErrorIs(t, &AuthError{Status: 401, Err: ErrSessionInvalid}, ErrSessionInvalid)
	assert.ErrorIs(t, &ProtocolError{Err: base}, base)
	assert.Contains(t, (&UpstreamPlatformError{Platform: PlatformYouTube, Message: "quota"}).Error(), "youtube")
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "backend down", UserMessage(fmt.Errorf("wrap: %w", &StreamError{Message: "backend down"})))
	assert.Contains(t, UserMessage(&AuthError{Status: 401, Err: ErrSessionInvalid}), "session has expired")
	assert.Contains(t, UserMessage(&AuthError{Err: ErrNoToken}), "Authentication failed")
	assert.Contains(t, UserMessage(&TransportError{Op: "read", Err: ErrStreamClosed}), "closed before")
	assert.Contains(t, UserMessage(&TransportError{Op: "connect", Err: errors.New("x")}), "Connection problem")
}
