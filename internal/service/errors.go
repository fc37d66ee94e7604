// Package service implements the in-memory search and chat backend used for
// development and integration tests.
package service

import "errors"

var (
	// ErrSearchNotFound is returned for unknown searches and searches owned by another user.
	ErrSearchNotFound = errors.New("search not found")
	// ErrNoRound is returned when a load-more stream is opened without a requested round.
	ErrNoRound = errors.New("no load-more round requested")
	// ErrInvalidCursor is returned for cursors this backend did not issue.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrNoTurn is returned when a chat stream is opened with no pending turn.
	ErrNoTurn = errors.New("no pending chat turn")
	// ErrChatNotFound is returned for chats owned by another user.
	ErrChatNotFound = errors.New("chat not found")
)
