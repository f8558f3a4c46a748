package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type jobFunc func(ctx context.Context) ([]service.ReminderResult, error)

func (f jobFunc) SendDefault(ctx context.Context) ([]service.ReminderResult, error) {
	return f(ctx)
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New("every now and then", jobFunc(nil), time.Second, zap.NewNop())
	assert.Error(t, err)
}

func TestScheduler_RunsJob(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@every 1s", jobFunc(func(context.Context) ([]service.ReminderResult, error) {
		runs.Add(1)
		return nil, nil
	}), time.Second, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	s, err := New("@every 1s", jobFunc(func(ctx context.Context) ([]service.ReminderResult, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}), time.Minute, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, cancelled.Load())
}

func TestScheduler_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := New("@every 1s", jobFunc(func(context.Context) ([]service.ReminderResult, error) {
		return []service.ReminderResult{{Window: "24h", Failed: 1}}, errors.New("db down")
	}), time.Second, zap.New(core))
	require.NoError(t, err)

	s.run()

	entries := logs.FilterMessage("scheduled reminder run failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "db down", entries[0].ContextMap()["error"])
}
