package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReminderJob is implemented by *service.ReminderService.
type ReminderJob interface {
	SendDefault(ctx context.Context) ([]service.ReminderResult, error)
}

// Scheduler runs the reminder job inside the server process. A run that is
// still going when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	job     ReminderJob
	log     *zap.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(spec string, job ReminderJob, timeout time.Duration, log *zap.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		job:     job,
		log:     log,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{log}),
		cron.SkipIfStillRunning(cronLogger{log}),
	))
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid reminder cron spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("reminder scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop cancels the running job and waits for it to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	results, err := s.job.SendDefault(ctx)
	fields := []zap.Field{zap.Duration("took", time.Since(start)), zap.Any("results", results)}
	if err != nil {
		s.log.Error("scheduled reminder run failed", append(fields, zap.Error(err))...)
		return
	}
	s.log.Info("scheduled reminder run finished", fields...)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
