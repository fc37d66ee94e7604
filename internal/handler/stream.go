package handler

import (
	"net/http"

	"github.com/conthunt/streamcore/internal/sse"
	"github.com/conthunt/streamcore/pkg/metrics"
)

// eventStream writes data-only SSE frames. Headers are sent with the first
// frame, so an error before it can still be answered as JSON.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &eventStream{w: w, flusher: flusher}, true
}

func (s *eventStream) send(v interface{}) error {
	if !s.started {
		sse.PrepareHeaders(s.w)
		s.started = true
		metrics.IncrementSSEConnections()
	}
	return sse.Write(s.w, s.flusher, "", v)
}

func (s *eventStream) close() {
	if s.started {
		metrics.DecrementSSEConnections()
	}
}
