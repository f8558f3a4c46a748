package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const DefaultReminderTolerance = 5 * time.Minute

// Window is a lead time ahead of now. An appointment is due for a reminder
// when it starts within Tolerance of now+Lead, both ends inclusive.
type Window struct {
	Name      string
	Lead      time.Duration
	Tolerance time.Duration
	// Label completes "the appointment is ..." in the reminder text.
	Label string
}

func (w Window) Bounds(now time.Time) (from, to time.Time) {
	target := now.Add(w.Lead)
	return target.Add(-w.Tolerance), target.Add(w.Tolerance)
}

func (w Window) Contains(now, t time.Time) bool {
	from, to := w.Bounds(now)
	return !t.Before(from) && !t.After(to)
}

var (
	Window24h = Window{Name: "24h", Lead: 24 * time.Hour, Tolerance: DefaultReminderTolerance, Label: "tomorrow"}
	Window1h  = Window{Name: "1h", Lead: time.Hour, Tolerance: DefaultReminderTolerance, Label: "in 1 hour"}
	Window30m = Window{Name: "30m", Lead: 30 * time.Minute, Tolerance: DefaultReminderTolerance, Label: "in 30 minutes"}
)

// ErrUnknownWindow is returned by ParseWindow for anything but 24h, 1h and 30m.
var ErrUnknownWindow = errors.New("unknown reminder window")

func ParseWindow(name string) (Window, error) {
	switch name {
	case Window24h.Name:
		return Window24h, nil
	case Window1h.Name:
		return Window1h, nil
	case Window30m.Name:
		return Window30m, nil
	}
	return Window{}, fmt.Errorf("%w %q (want 24h, 1h or 30m)", ErrUnknownWindow, name)
}

type ReminderResult struct {
	Window  string `json:"window"`
	Matched int    `json:"matched"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

// ReminderService scans confirmed appointments and dispatches reminders.
//
// Nothing records that a reminder went out. Each appointment is picked up by
// exactly one run only while runs happen at most every 2*Tolerance and do not
// overlap; a faster or retried run sends the reminder again.
type ReminderService struct {
	repo      appointment.Repository
	notifier  EventDispatcher
	tolerance time.Duration
	log       *zap.Logger
	metrics   Metrics
	now       func() time.Time
}

func NewReminderService(repo appointment.Repository, notifier EventDispatcher, tolerance time.Duration, log *zap.Logger, m Metrics) *ReminderService {
	if tolerance <= 0 {
		tolerance = DefaultReminderTolerance
	}
	return &ReminderService{
		repo:      repo,
		notifier:  notifier,
		tolerance: tolerance,
		log:       log,
		metrics:   orNop(m),
		now:       time.Now,
	}
}

func (s *ReminderService) WithClock(now func() time.Time) *ReminderService {
	s.now = now
	return s
}

// Send reminds every confirmed appointment inside w. Failures for a single
// appointment are logged and counted; only a failed store query is returned.
func (s *ReminderService) Send(ctx context.Context, w Window) (ReminderResult, error) {
	w.Tolerance = s.tolerance
	res := ReminderResult{Window: w.Name}

	ctx, span := tracer.Start(ctx, "ReminderService.Send")
	defer span.End()
	span.SetAttributes(attribute.String("reminder.window", w.Name))

	now := s.now()
	from, to := w.Bounds(now)

	candidates, err := s.repo.ListConfirmedBetween(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "querying appointments")
		return res, fmt.Errorf("listing appointments for %s reminders: %w", w.Name, err)
	}

	for _, a := range candidates {
		if a.Status != appointment.StatusConfirmed || a.IsTrashed() || !w.Contains(now, a.ScheduledAt) {
			continue
		}
		res.Matched++

		err := s.notifier.Dispatch(ctx, Event{
			Kind:        notification.KindAppointmentReminder,
			Appointment: Summarize(a),
			Context:     map[string]string{KeyWhenLabel: w.Label},
		})
		if err != nil {
			res.Failed++
			s.log.Error("reminder dispatch failed",
				zap.String("window", w.Name),
				zap.String("appointment_id", a.ID.String()),
				zap.Error(err),
			)
			continue
		}
		res.Sent++
	}

	span.SetAttributes(
		attribute.Int("reminder.matched", res.Matched),
		attribute.Int("reminder.sent", res.Sent),
		attribute.Int("reminder.failed", res.Failed),
	)
	s.metrics.ReminderRun(w.Name, res.Sent, res.Failed)
	s.log.Info("reminder run finished",
		zap.String("window", w.Name),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("matched", res.Matched),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// SendDefault runs the 24 hour and 30 minute windows. Both windows run even
// if the first one fails.
func (s *ReminderService) SendDefault(ctx context.Context) ([]ReminderResult, error) {
	var results []ReminderResult
	var errs []error
	for _, w := range []Window{Window24h, Window30m} {
		res, err := s.Send(ctx, w)
		results = append(results, res)
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}
