package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type chanReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newChanReader(msgs ...kafka.Message) *chanReader {
	r := &chanReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error { return nil }

func (r *chanReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type memWriter struct {
	mu   sync.Mutex
	jobs []Job
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		var job Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			return err
		}
		w.jobs = append(w.jobs, job)
	}
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) published() []Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Job(nil), w.jobs...)
}

func jobMessage(t *testing.T, offset int64, job Job) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(job)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(job.ID), Value: raw}
}

func newTestKafkaQueue(h Handler, r messageReader, w messageWriter, retry RetryPolicy) *KafkaQueue {
	return &KafkaQueue{
		writer:  w,
		reader:  r,
		handler: h,
		retry:   retry,
		log:     zap.NewNop(),
		obs:     nopObserver{},
		done:    make(chan struct{}),
	}
}

func TestKafkaQueue_RetryBackoffDoesNotBlockConsumer(t *testing.T) {
	failing := Job{ID: "job-1", Type: "mail", Payload: json.RawMessage(`{}`)}
	healthy := Job{ID: "job-2", Type: "mail", Payload: json.RawMessage(`{}`)}
	reader := newChanReader(jobMessage(t, 1, failing), jobMessage(t, 2, healthy))
	writer := &memWriter{}

	handled := make(chan string, 4)
	h := HandlerFunc(func(_ context.Context, job Job) error {
		handled <- job.ID
		if job.ID == failing.ID {
			return errors.New("smtp timeout")
		}
		return nil
	})

	q := newTestKafkaQueue(h, reader, writer, RetryPolicy{MaxAttempts: 3, Backoff: time.Hour})
	q.Start(context.Background())

	for _, want := range []string{failing.ID, healthy.ID} {
		select {
		case got := <-handled:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("job %s was not handled while a retry was pending", want)
		}
	}
	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, writer.published(), "retry published before its backoff")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	published := writer.published()
	require.Len(t, published, 1)
	assert.Equal(t, failing.ID, published[0].ID)
	assert.Equal(t, 1, published[0].Attempt)
}

func TestKafkaQueue_RetryPublishedAfterBackoff(t *testing.T) {
	failing := Job{ID: "job-1", Type: "mail", Payload: json.RawMessage(`{}`)}
	writer := &memWriter{}
	h := HandlerFunc(func(context.Context, Job) error { return errors.New("smtp timeout") })

	q := newTestKafkaQueue(h, newChanReader(jobMessage(t, 1, failing)), writer, RetryPolicy{MaxAttempts: 2, Backoff: 10 * time.Millisecond})
	q.Start(context.Background())
	defer func() { _ = q.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool { return len(writer.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, writer.published()[0].Attempt)
}
