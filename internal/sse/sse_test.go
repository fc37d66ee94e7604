package sse

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) []Event {
	t.Helper()
	r := NewReader(strings.NewReader(input))
	var events []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestReader_Frames(t *testing.T) {
	input := "data: {\"type\":\"done\"}\n\n" +
		": keep-alive\n\n" +
		"event: token\nid: 7\ndata: first\ndata: second\n\n" +
		"data:nospace\r\n\r\n" +
		"retry: 1500\ndata: x\n\n"

	events := readAll(t, input)
	require.Len(t, events, 4)

	assert.Equal(t, `{"type":"done"}`, string(events[0].Data))
	assert.Equal(t, "message", events[0].Type())

	assert.Equal(t, "token", events[1].Type())
	assert.Equal(t, "7", events[1].ID)
	assert.Equal(t, "first\nsecond", string(events[1].Data))

	assert.Equal(t, "nospace", string(events[2].Data))
	assert.Equal(t, "7", events[2].ID, "id persists across frames")

	assert.Equal(t, 1500*time.Millisecond, events[3].Retry)
}

func TestReader_IgnoresFramesWithoutData(t *testing.T) {
	events := readAll(t, "event: ping\n\ndata: real\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "real", string(events[0].Data))
	assert.Equal(t, "message", events[0].Type(), "event name does not leak into the next frame")
}

func TestReader_TrailingFrameAtEOF(t *testing.T) {
	events := readAll(t, "data: complete\n\ndata: partial")
	require.Len(t, events, 2)
	assert.Equal(t, "complete", string(events[0].Data))
	assert.Equal(t, "partial", string(events[1].Data))
}

func TestReader_IDOnlyFrameCarriesForward(t *testing.T) {
	r := NewReader(strings.NewReader("id: 3\n\ndata: a\n\n"))
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "3", ev.ID)
	assert.Equal(t, "3", r.LastEventID())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_MixedLineEndingsInsideFrame(t *testing.T) {
	events := readAll(t, "event: token\r\ndata: a\rdata: b\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "token", events[0].Type())
	assert.Equal(t, "a\nb", string(events[0].Data))
}

func TestReader_LoneCR(t *testing.T) {
	events := readAll(t, "data: a\r\rdata: b\r\r")
	require.Len(t, events, 2)
	assert.Equal(t, "a", string(events[0].Data))
	assert.Equal(t, "b", string(events[1].Data))
}

func TestReader_LargeFrame(t *testing.T) {
	big := strings.Repeat("x", 200*1024)
	events := readAll(t, "data: "+big+"\n\n")
	require.Len(t, events, 1)
	assert.Len(t, events[0].Data, len(big))
}

func TestWrite_RoundTripsThroughReader(t *testing.T) {
	rec := httptest.NewRecorder()
	flusher, ok := PrepareHeaders(rec)
	require.True(t, ok)

	require.NoError(t, Write(rec, flusher, "", map[string]string{"type": "done"}))
	_, err := rec.WriteString(": heartbeat\n\n")
	require.NoError(t, err)
	require.NoError(t, Write(rec, flusher, "token", map[string]string{"content": "hi"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readAll(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"type":"done"}`, string(events[0].Data))
	assert.Equal(t, "token", events[1].Event)
	assert.JSONEq(t, `{"content":"hi"}`, string(events[1].Data))
}
