package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conthunt/streamcore/internal/model"
)

// JobObserver is notified of every job state transition.
type JobObserver interface {
	JobChanged(job model.Job)
}

// Handle controls one live stream.
type Handle struct {
	key      string
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	aborted  atomic.Bool
	observer JobObserver

	// dispatchMu is held while a listener callback runs.
	dispatchMu  sync.Mutex
	dispatching atomic.Bool

	mu  sync.Mutex
	job model.Job
}

func newHandle(ctx context.Context, key string, job model.Job, observer JobObserver) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	return &Handle{
		key:      key,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		observer: observer,
		job:      job,
	}
}

// Abort cancels the connection. Once Abort returns no new callback is
// dispatched; a callback already dispatched may still be running. Safe to call
// more than once and from inside a callback.
func (h *Handle) Abort() {
	if !h.stop() {
		return
	}
	if !h.dispatching.Load() {
		// A dispatch that read the flag before stop holds the lock until its
		// callback returns.
		h.dispatchMu.Lock()
		h.dispatchMu.Unlock()
	}
}

// stop marks the handle aborted without waiting for a running callback.
func (h *Handle) stop() bool {
	if !h.aborted.CompareAndSwap(false, true) {
		return false
	}
	h.cancel()
	h.transition(model.JobStatusAborted, "")
	return true
}

// Aborted reports whether Abort was called. A cancelled parent context is only
// reflected once the stream goroutine notices it and ends the stream.
func (h *Handle) Aborted() bool {
	return h.aborted.Load()
}

// dispatch runs fn unless the handle was aborted. It reports whether fn ran.
func (h *Handle) dispatch(fn func()) bool {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	h.dispatching.Store(true)
	defer h.dispatching.Store(false)
	if h.aborted.Load() {
		return false
	}
	fn()
	return true
}

// Done is closed once the stream goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the stream ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context is cancelled when the stream is aborted or finishes.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Job returns a snapshot of the job.
func (h *Handle) Job() model.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

// transition moves the job forward. Terminal states are sticky.
func (h *Handle) transition(status model.JobStatus, errMsg string) bool {
	h.mu.Lock()
	if h.job.Status.Terminal() || h.job.Status == status {
		h.mu.Unlock()
		return false
	}
	h.job.Status = status
	h.job.Error = errMsg
	h.job.UpdatedAt = time.Now().UTC()
	job := h.job
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.JobChanged(job)
	}
	return true
}
