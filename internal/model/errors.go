package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNoToken indicates no bearer token was available.
	ErrNoToken = errors.New("no bearer token available")

	// ErrSessionInvalid indicates the backend rejected the session (HTTP 401).
	ErrSessionInvalid = errors.New("session invalid")

	// ErrLoadMoreInFlight indicates a load-more round is already running for the tab.
	ErrLoadMoreInFlight = errors.New("load more already in flight")

	// ErrSearchInFlight indicates the tab's search is still streaming.
	ErrSearchInFlight = errors.New("search still streaming")

	// ErrTurnInFlight indicates a chat turn is already streaming.
	ErrTurnInFlight = errors.New("chat turn already streaming")

	// ErrUnknownTab indicates the tab has no search attached.
	ErrUnknownTab = errors.New("unknown tab")

	// ErrStreamClosed indicates the stream ended before a terminal event.
	ErrStreamClosed = errors.New("stream closed before done")
)

// AuthError reports missing or rejected credentials. It is not retried by the streaming layer.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth error: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("auth error: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransportError reports a network or SSE failure. Terminal for the current stream.
type TransportError struct {
	Op     string // "connect", "read", "request"
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport error: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UpstreamPlatformError reports that one platform failed. Other platforms continue.
type UpstreamPlatformError struct {
	Platform Platform
	Message  string
}

func (e *UpstreamPlatformError) Error() string {
	return fmt.Sprintf("platform %s failed: %s", e.Platform, e.Message)
}

// ProtocolError reports a malformed event payload. The frame is dropped and the stream continues.
type ProtocolError struct {
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// StreamError reports a terminal error event sent by the backend.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// UserMessage renders err as a human-readable string for the UI.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var streamErr *StreamError
	var authErr *AuthError
	var transportErr *TransportError

	switch {
	case errors.As(err, &streamErr):
		return streamErr.Message
	case errors.Is(err, ErrSessionInvalid):
		return "Your session has expired. Please sign in again."
	case errors.As(err, &authErr):
		return "Authentication failed. Please sign in again."
	case errors.Is(err, ErrStreamClosed):
		return "The connection closed before results finished loading."
	case errors.As(err, &transportErr):
		return "Connection problem. Please try again."
	default:
		return err.Error()
	}
}
