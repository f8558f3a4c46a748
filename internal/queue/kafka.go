package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

type KafkaOptions struct {
	Brokers []string
	Topic   string
	GroupID string
	Retry   RetryPolicy
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes jobs to a topic and consumes them with a consumer
// group. Retries are re-published with an incremented attempt counter once
// their backoff elapses; the wait happens off the consume loop.
type KafkaQueue struct {
	writer  messageWriter
	reader  messageReader
	handler Handler
	retry   RetryPolicy
	log     *zap.Logger
	obs     Observer

	cancel  context.CancelFunc
	done    chan struct{}
	start   sync.Once
	retries sync.WaitGroup
}

func NewKafkaQueue(h Handler, opts KafkaOptions, log *zap.Logger, obs Observer) *KafkaQueue {
	if obs == nil {
		obs = nopObserver{}
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(opts.Brokers...),
			Topic:        opts.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  opts.Brokers,
			GroupID:  opts.GroupID,
			Topic:    opts.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		handler: h,
		retry:   opts.Retry,
		log:     log,
		obs:     obs,
		done:    make(chan struct{}),
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(job.ID), Value: value}); err != nil {
		q.obs.JobDropped(job.Type)
		return fmt.Errorf("publishing job: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Start(ctx context.Context) {
	q.start.Do(func() {
		ctx, q.cancel = context.WithCancel(ctx)
		go q.consume(ctx)
	})
}

// Shutdown stops the consumer. Retries still waiting on their backoff are
// published right away so they survive the restart.
func (q *KafkaQueue) Shutdown(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
		select {
		case <-q.done:
		case <-ctx.Done():
			q.log.Warn("kafka consumer did not stop before shutdown deadline")
		}
	}

	pending := make(chan struct{})
	go func() {
		q.retries.Wait()
		close(pending)
	}()
	select {
	case <-pending:
	case <-ctx.Done():
		q.log.Warn("pending job retries not published before shutdown deadline")
	}
	return errors.Join(q.reader.Close(), q.writer.Close())
}

func (q *KafkaQueue) consume(ctx context.Context) {
	defer close(q.done)

	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("fetching job message", zap.Error(err))
			continue
		}

		q.handleMessage(ctx, msg)

		if err := q.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			q.log.Error("committing job message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (q *KafkaQueue) handleMessage(ctx context.Context, msg kafka.Message) {
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		q.log.Error("discarding undecodable job message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}
	job.Attempt++

	hctx, cancel := context.WithTimeout(ctx, jobTimeout)
	err := q.handler.Handle(hctx, job)
	cancel()

	if err == nil {
		q.obs.JobProcessed(job.Type, OutcomeSuccess)
		return
	}

	if !q.retry.ShouldRetry(job.Attempt, err) {
		q.obs.JobProcessed(job.Type, OutcomeFailed)
		q.log.Error("job failed permanently",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return
	}

	q.obs.JobProcessed(job.Type, OutcomeRetry)
	q.scheduleRetry(ctx, job, q.retry.Delay(job.Attempt))
}

func (q *KafkaQueue) scheduleRetry(ctx context.Context, job Job, delay time.Duration) {
	q.retries.Add(1)
	go func() {
		defer q.retries.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}

		if err := q.Enqueue(context.WithoutCancel(ctx), job); err != nil {
			q.log.Error("re-publishing job for retry",
				zap.String("job_id", job.ID),
				zap.String("job_type", job.Type),
				zap.Error(err),
			)
		}
	}()
}
