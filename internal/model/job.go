package model

import (
	"time"
)

// JobKind distinguishes the resources a stream can be opened for.
type JobKind string

const (
	JobKindSearch   JobKind = "search"
	JobKindLoadMore JobKind = "load_more"
	JobKindChatTurn JobKind = "chat_turn"
)

// JobStatus is the lifecycle state of a streamed job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusStreaming JobStatus = "streaming"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusAborted   JobStatus = "aborted"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusAborted:
		return true
	default:
		return false
	}
}

// Job is one logical unit of streamed work: a search, a load-more round or a chat turn.
type Job struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      JobKind   `json:"kind" yaml:"kind"`
	Status    JobStatus `json:"status" yaml:"status"`
	UserID    string    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}
