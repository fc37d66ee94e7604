// Package stream consumes the server-sent event streams of search jobs,
// load-more rounds and chat turns.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/api"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/sse"
	"github.com/conthunt/streamcore/pkg/logger"
	"github.com/conthunt/streamcore/pkg/metrics"
	"github.com/conthunt/streamcore/pkg/tracing"
)

// ErrDone is returned by a Listener to end the stream successfully.
var ErrDone = errors.New("stream done")

var errAborted = errors.New("stream aborted")

// Listener handles the frames of one stream. Frame returning ErrDone completes
// the stream, a *model.ProtocolError drops the frame, any other error fails it.
// Closed runs once after a completed or failed stream, never after an abort.
type Listener interface {
	Frame(h *Handle, ev sse.Event) error
	Closed(h *Handle, err error)
}

// Request describes the stream to open.
type Request struct {
	JobID  string
	Kind   model.JobKind
	Path   string
	Token  string
	UserID string
}

func (r Request) key() string {
	return string(r.Kind) + ":" + r.JobID
}

// Options configures a Consumer.
type Options struct {
	BaseURL string

	// HTTPClient must not set a Timeout; streams stay open until done or abort.
	HTTPClient *http.Client
	Logger     *logger.Logger
	Observer   JobObserver
}

// Consumer opens streams, keeping at most one live stream per job.
type Consumer struct {
	baseURL  string
	http     *http.Client
	logger   *logger.Logger
	observer JobObserver
	tracer   trace.Tracer

	mu   sync.Mutex
	live map[string]*Handle
}

// NewConsumer creates a consumer.
func NewConsumer(opts Options) *Consumer {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Consumer{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     httpClient,
		logger:   opts.Logger.OrNop(),
		observer: opts.Observer,
		tracer:   tracing.Tracer("streamcore/stream"),
		live:     make(map[string]*Handle),
	}
}

// Open starts a stream. A live stream for the same job is aborted first.
// Connection and reading happen in the background; the result is reported
// through l.
func (c *Consumer) Open(ctx context.Context, req Request, l Listener) (*Handle, error) {
	if req.Token == "" {
		return nil, &model.AuthError{Err: model.ErrNoToken}
	}
	if req.JobID == "" {
		return nil, fmt.Errorf("stream request without job id")
	}

	now := time.Now().UTC()
	job := model.Job{
		ID:        req.JobID,
		Kind:      req.Kind,
		Status:    model.JobStatusPending,
		UserID:    req.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	h := newHandle(ctx, req.key(), job, c.observer)

	c.mu.Lock()
	prev := c.live[h.key]
	c.live[h.key] = h
	c.mu.Unlock()

	if prev != nil {
		c.logger.Debug("aborting previous stream",
			zap.String("job_kind", string(req.Kind)),
			zap.String("job_id", req.JobID),
		)
		prev.stop()
	}

	if c.observer != nil {
		c.observer.JobChanged(job)
	}

	go c.run(h, req, l)
	return h, nil
}

// Close aborts every live stream.
func (c *Consumer) Close() {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.live))
	for _, h := range c.live {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		h.Abort()
	}
}

func (c *Consumer) release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live[h.key] == h {
		delete(c.live, h.key)
	}
}

func (c *Consumer) run(h *Handle, req Request, l Listener) {
	defer close(h.done)
	defer c.release(h)
	defer h.cancel()

	kind := string(req.Kind)
	log := c.logger.WithJob(kind, req.JobID)
	start := time.Now()

	ctx, span := c.tracer.Start(h.ctx, "stream."+kind, trace.WithAttributes(
		attribute.String("job.kind", kind),
		attribute.String("job.id", req.JobID),
	))
	defer span.End()

	metrics.StreamsActive.WithLabelValues(kind).Inc()
	defer metrics.StreamsActive.WithLabelValues(kind).Dec()

	err := c.consume(ctx, h, req, l, log)

	if h.Aborted() || errors.Is(err, errAborted) {
		h.stop()
		span.SetAttributes(attribute.String("job.status", string(model.JobStatusAborted)))
		metrics.RecordStreamOutcome(kind, string(model.JobStatusAborted), time.Since(start).Seconds())
		log.Debug("stream aborted")
		return
	}

	if err != nil {
		h.transition(model.JobStatusFailed, model.UserMessage(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordStreamOutcome(kind, string(model.JobStatusFailed), time.Since(start).Seconds())
		log.Warn("stream failed", zap.Error(err))
	} else {
		h.transition(model.JobStatusCompleted, "")
		metrics.RecordStreamOutcome(kind, string(model.JobStatusCompleted), time.Since(start).Seconds())
		log.Debug("stream completed", zap.Duration("duration", time.Since(start)))
	}
	span.SetAttributes(attribute.String("job.status", string(h.Job().Status)))

	h.dispatch(func() { l.Closed(h, err) })
}

func (c *Consumer) consume(ctx context.Context, h *Handle, req Request, l Listener, log *logger.Logger) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+req.Path, nil)
	if err != nil {
		return &model.TransportError{Op: "connect", Err: err}
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return errAborted
		}
		return &model.TransportError{Op: "connect", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &model.AuthError{Status: resp.StatusCode, Err: model.ErrSessionInvalid}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == api.StatusTokenExpired:
		return &model.AuthError{Status: resp.StatusCode, Err: errors.New(readError(resp.Body))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &model.TransportError{Op: "connect", Status: resp.StatusCode, Err: errors.New(readError(resp.Body))}
	}

	h.transition(model.JobStatusStreaming, "")
	kind := string(req.Kind)
	reader := sse.NewReader(resp.Body)

	for {
		ev, err := reader.Next()
		if h.Aborted() || ctx.Err() != nil {
			return errAborted
		}
		if err == io.EOF {
			return &model.TransportError{Op: "read", Err: model.ErrStreamClosed}
		}
		if err != nil {
			return &model.TransportError{Op: "read", Err: err}
		}

		metrics.StreamFramesTotal.WithLabelValues(kind, ev.Type()).Inc()

		var ferr error
		if !h.dispatch(func() { ferr = l.Frame(h, ev) }) {
			return errAborted
		}
		if ferr == nil {
			continue
		}
		if errors.Is(ferr, ErrDone) {
			return nil
		}

		var protoErr *model.ProtocolError
		if errors.As(ferr, &protoErr) {
			metrics.ProtocolDropsTotal.WithLabelValues(kind).Inc()
			log.Warn("dropping malformed event",
				zap.Error(protoErr),
				zap.String("event", ev.Type()),
				zap.Int("payload_bytes", len(ev.Data)),
			)
			continue
		}
		return ferr
	}
}

func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "unexpected response"
}
