// Package sse reads and writes text/event-stream frames.
package sse

import (
	"bytes"
	"io"
	"strconv"
	"time"

	eventstream "github.com/r3labs/sse/v2"
)

// MaxFrameSize bounds a single frame of the stream.
const MaxFrameSize = 4 << 20

// Event is one dispatched SSE frame.
type Event struct {
	ID    string
	Event string
	Data  []byte
	Retry time.Duration
}

// Type returns the event name, defaulting to "message".
func (e Event) Type() string {
	if e.Event == "" {
		return "message"
	}
	return e.Event
}

// Reader splits an event stream into frames. Frame boundaries come from the
// r3labs event stream scanner; field parsing happens here.
type Reader struct {
	stream *eventstream.EventStreamReader
	lastID string
}

// NewReader creates a reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{stream: eventstream.NewEventStreamReader(r, MaxFrameSize)}
}

// LastEventID returns the most recent id field seen on the stream.
func (r *Reader) LastEventID() string {
	return r.lastID
}

// Next blocks until the next frame with data is dispatched. It returns io.EOF
// when the stream ends. Bytes left over at EOF are parsed as a final frame.
func (r *Reader) Next() (Event, error) {
	for {
		raw, err := r.stream.ReadEvent()
		if err != nil {
			return Event{}, err
		}
		if ev, ok := r.parse(raw); ok {
			return ev, nil
		}
	}
}

// parse reads the fields of one frame. Frames without a data field only
// update the last event id.
func (r *Reader) parse(raw []byte) (Event, bool) {
	var (
		ev      Event
		data    bytes.Buffer
		hasData bool
	)

	for len(raw) > 0 {
		var line []byte
		line, raw = cutLine(raw)
		if len(line) == 0 || line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field = line[:i]
			value = line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}

		switch string(field) {
		case "event":
			ev.Event = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
		case "id":
			if bytes.IndexByte(value, 0) < 0 {
				r.lastID = string(value)
			}
		case "retry":
			if ms, err := strconv.Atoi(string(value)); err == nil && ms >= 0 {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if !hasData {
		return Event{}, false
	}
	ev.ID = r.lastID
	ev.Data = append([]byte(nil), data.Bytes()...)
	return ev, true
}

// cutLine splits off the first line, ending at LF, CRLF or a lone CR.
func cutLine(b []byte) (line, rest []byte) {
	i := bytes.IndexAny(b, "\r\n")
	if i < 0 {
		return b, nil
	}
	if b[i] == '\r' && i+1 < len(b) && b[i+1] == '\n' {
		return b[:i], b[i+2:]
	}
	return b[:i], b[i+1:]
}
