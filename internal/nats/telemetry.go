package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/model"
)

const (
	// StreamName is the JetStream stream holding job state transitions.
	StreamName = "STREAMCORE_JOBS"

	// SubjectPrefix is the prefix of every job subject.
	SubjectPrefix = "jobs"
)

// JobSubject returns the subject of one job's transitions.
func JobSubject(kind model.JobKind, jobID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(string(kind)), subjectToken(jobID))
}

// KindFilter returns the filter subject matching every job of a kind.
func KindFilter(kind model.JobKind) string {
	return fmt.Sprintf("%s.%s.*", SubjectPrefix, subjectToken(string(kind)))
}

// subjectToken makes s safe as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Publisher publishes job transitions. It satisfies stream.JobObserver.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher over a connected client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream creates the job stream if it does not exist.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:              StreamName,
		Subjects:          []string{SubjectPrefix + ".>"},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            7 * 24 * time.Hour,
		MaxMsgsPerSubject: 16,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
		Description:       "Search, load-more and chat job transitions",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// JobChanged publishes one transition without waiting for the ack.
func (p *Publisher) JobChanged(job model.Job) {
	data, err := json.Marshal(job)
	if err != nil {
		p.client.logger.Warn("failed to marshal job", zap.Error(err))
		return
	}

	if _, err := p.client.JetStream().PublishAsync(JobSubject(job.Kind, job.ID), data); err != nil {
		p.client.logger.Warn("failed to publish job transition",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
	}
}

// Flush waits for outstanding publishes to be acknowledged.
func (p *Publisher) Flush(ctx context.Context) error {
	select {
	case <-p.client.JetStream().PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the recorded transitions of a job, oldest first.
func (p *Publisher) History(ctx context.Context, kind model.JobKind, jobID string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 16
	}

	consumer, err := p.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{JobSubject(kind, jobID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job history: %w", err)
	}

	var jobs []model.Job
	for msg := range batch.Messages() {
		var job model.Job
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, fmt.Errorf("batch error: %w", err)
	}
	return jobs, nil
}
