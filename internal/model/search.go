package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Cursor is an opaque, backend-defined continuation token.
type Cursor = json.RawMessage

// CursorLive reports whether c denotes a further page. Empty and JSON null mean exhausted.
func CursorLive(c Cursor) bool {
	trimmed := bytes.TrimSpace(c)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// PlatformResult is one platform's contribution to a job. Immutable once received.
type PlatformResult struct {
	Platform   Platform      `json:"platform"`
	Success    bool          `json:"success"`
	Items      []ContentItem `json:"items"`
	NextCursor Cursor        `json:"next_cursor,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// PlatformStatus is a platform's state in a search response or snapshot.
type PlatformStatus struct {
	Success    bool   `json:"success"`
	NextCursor Cursor `json:"next_cursor,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Filter carries per-platform filter parameters verbatim to the backend.
type Filter map[string]any

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query     string              `json:"query"`
	Platforms []Platform          `json:"platforms,omitempty"`
	Filters   map[Platform]Filter `json:"filters,omitempty"`
}

// StartSearchResponse is the response of POST /search.
type StartSearchResponse struct {
	SearchID  string                      `json:"search_id"`
	Platforms map[Platform]PlatformStatus `json:"platforms"`
	Results   []ContentItem               `json:"results"`
}

// SearchSnapshot is the authoritative state of a search returned by GET /searches/{id}.
type SearchSnapshot struct {
	ID        string                      `json:"id"`
	Status    string                      `json:"status"`
	Platforms map[Platform]PlatformStatus `json:"platforms"`
	Results   []ContentItem               `json:"results"`
}

// LoadMoreRequest is the body of POST /search/{id}/more.
type LoadMoreRequest struct {
	Cursors map[Platform]Cursor `json:"cursors"`
	Filters map[Platform]Filter `json:"filters,omitempty"`
}

// SearchEvent is one decoded event of a search or load-more stream.
type SearchEvent interface {
	searchEvent()
}

// PlatformResultEvent carries one platform's batch.
type PlatformResultEvent struct {
	Result PlatformResult
}

// SearchDoneEvent terminates a stream successfully.
type SearchDoneEvent struct{}

// SearchErrorEvent terminates a stream with a failure.
type SearchErrorEvent struct {
	Message string
}

func (PlatformResultEvent) searchEvent() {}
func (SearchDoneEvent) searchEvent()     {}
func (SearchErrorEvent) searchEvent()    {}

type searchWire struct {
	Type       string        `json:"type"`
	Platform   Platform      `json:"platform"`
	Success    bool          `json:"success"`
	Items      []ContentItem `json:"items"`
	NextCursor Cursor        `json:"next_cursor"`
	Error      string        `json:"error"`
	Message    string        `json:"message"`
}

// DecodeSearchEvent decodes one SSE data payload of a search stream.
func DecodeSearchEvent(data []byte) (SearchEvent, error) {
	var w searchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ProtocolError{Payload: string(data), Err: err}
	}

	switch w.Type {
	case "platform_result":
		if w.Platform == "" {
			return nil, &ProtocolError{Payload: string(data), Err: fmt.Errorf("platform_result without platform")}
		}
		return PlatformResultEvent{Result: PlatformResult{
			Platform:   w.Platform,
			Success:    w.Success,
			Items:      w.Items,
			NextCursor: w.NextCursor,
			Error:      w.Error,
		}}, nil
	case "done":
		return SearchDoneEvent{}, nil
	case "error":
		msg := w.Error
		if msg == "" {
			msg = w.Message
		}
		if msg == "" {
			msg = "search failed"
		}
		return SearchErrorEvent{Message: msg}, nil
	default:
		return nil, &ProtocolError{Payload: string(data), Err: fmt.Errorf("unknown event type %q", w.Type)}
	}
}
