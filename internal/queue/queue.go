// Package queue defers side effects (activity log writes, notification
// delivery) off the request path. A job is acknowledged once it is accepted
// by the transport; handlers run later and are retried on failure.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueFull   = errors.New("queue buffer is full")
	ErrQueueClosed = errors.New("queue is closed")
	ErrNoHandler   = errors.New("no handler registered for job type")
)

type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewJob(jobType string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	return Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", j.Type, err)
	}
	return nil
}

type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Queue accepts jobs. Enqueue must not wait for the job to be handled.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Worker is a Queue that also owns the goroutines consuming it.
type Worker interface {
	Queue
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// Observer receives job outcomes; pkg/metrics implements it.
type Observer interface {
	JobProcessed(jobType, outcome string)
	JobDropped(jobType string)
}

type nopObserver struct{}

func (nopObserver) JobProcessed(string, string) {}
func (nopObserver) JobDropped(string)           {}

const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
)

// Mux routes jobs to the handler registered for their type.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

func (m *Mux) Register(jobType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = h
}

func (m *Mux) RegisterFunc(jobType string, f func(ctx context.Context, job Job) error) {
	m.Register(jobType, HandlerFunc(f))
}

func (m *Mux) Handle(ctx context.Context, job Job) error {
	m.mu.RLock()
	h, ok := m.handlers[job.Type]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, job.Type)
	}
	return h.Handle(ctx, job)
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

const maxBackoff = time.Minute

// Delay returns the wait before the given attempt number is retried.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if isPermanent(err) {
		return false
	}
	return attempt < p.MaxAttempts
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (e.g. an undecodable payload).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, ErrNoHandler)
}
