package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/dmehra2102/prod-golang-projects/clinicflow/internal/service")

// ActivityLog is implemented by ActivityService.
type ActivityLog interface {
	Record(ctx context.Context, entry ActivityEntry)
	History(ctx context.Context, appointmentID uuid.UUID) ([]*appointment.Activity, error)
}

type AppointmentService struct {
	repo     appointment.Repository
	activity ActivityLog
	notifier EventDispatcher
	authz    Authorizer
	loc      *time.Location
	log      *zap.Logger
	metrics  Metrics
	now      func() time.Time
}

func NewAppointmentService(
	repo appointment.Repository,
	activity ActivityLog,
	notifier EventDispatcher,
	authz Authorizer,
	loc *time.Location,
	log *zap.Logger,
	m Metrics,
) *AppointmentService {
	if loc == nil {
		loc = time.UTC
	}
	return &AppointmentService{
		repo:     repo,
		activity: activity,
		notifier: notifier,
		authz:    authz,
		loc:      loc,
		log:      log,
		metrics:  orNop(m),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *AppointmentService) WithClock(now func() time.Time) *AppointmentService {
	s.now = now
	return s
}

func (s *AppointmentService) Book(ctx context.Context, actor domain.Actor, cmd *appointment.BookAppointmentCommand) (*appointment.Appointment, error) {
	if actor.Role == domain.RolePatient && actor.UserID != nil {
		cmd.UserID = *actor.UserID
	}

	a, err := s.buildAppointment(cmd)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, s.log, actor, ActionUpdate, a); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, a); err != nil {
		s.log.Error("failed to create appointment", zap.Error(err))
		return nil, fmt.Errorf("creating appointment: %w", err)
	}
	s.metrics.AppointmentBooked()

	s.activity.Record(ctx, ActivityEntry{
		AppointmentID: a.ID,
		UserID:        actor.UserID,
		Action:        appointment.ActionCreated,
		ToStatus:      appointment.StatusPtr(a.Status),
	})
	s.notify(ctx, Event{Kind: notification.KindAppointmentCreated, Appointment: Summarize(a)})

	return a, nil
}

func (s *AppointmentService) buildAppointment(cmd *appointment.BookAppointmentCommand) (*appointment.Appointment, error) {
	verr := &ValidationError{}

	if cmd.UserID == uuid.Nil {
		verr.add("user_id: is required")
	}

	date, dateErr := appointment.ParseDate(cmd.PreferredDate, s.loc)
	if dateErr != nil {
		verr.add("preferred_date: " + dateErr.Error())
	}
	clock, timeErr := appointment.NormalizeTime(cmd.PreferredTime)
	if timeErr != nil {
		verr.add("preferred_time: " + timeErr.Error())
	}

	var scheduledAt time.Time
	if dateErr == nil && timeErr == nil {
		scheduledAt, _ = appointment.CombineSchedule(date, clock, s.loc)
		if !scheduledAt.After(s.now()) {
			verr.add("preferred_date: must be in the future")
		}
	}

	var altDate *time.Time
	var altTime *string
	if cmd.AlternateDate != "" || cmd.AlternateTime != "" {
		d, err := appointment.ParseDate(cmd.AlternateDate, s.loc)
		if err != nil {
			verr.add("alternate_date: " + err.Error())
		} else {
			altDate = &d
		}
		t, err := appointment.NormalizeTime(cmd.AlternateTime)
		if err != nil {
			verr.add("alternate_time: " + err.Error())
		} else {
			altTime = &t
		}
	}

	in := cmd.Intake
	if strings.TrimSpace(in.FullName) == "" {
		verr.add("intake.full_name: is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		verr.add("intake.email: must be a valid email address")
	}
	if strings.TrimSpace(in.MedicalHistory.ReasonForVisit) == "" {
		verr.add("intake.medical_history.reason_for_visit: is required")
	}
	if !in.Consent.Treatment {
		verr.add("intake.consent.treatment: must be accepted")
	}
	if !in.Consent.Privacy {
		verr.add("intake.consent.privacy: must be accepted")
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}

	return &appointment.Appointment{
		UserID:        cmd.UserID,
		PreferredDate: date,
		PreferredTime: clock,
		AlternateDate: altDate,
		AlternateTime: altTime,
		ScheduledAt:   scheduledAt,
		Status:        appointment.StatusPending,
		Notes:         cmd.Notes,
		Intake:        in,
	}, nil
}

func (s *AppointmentService) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, s.log, actor, ActionView, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AppointmentService) List(ctx context.Context, actor domain.Actor, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error) {
	action := ActionView
	if q.Trashed {
		action = ActionDelete
	}
	if err := authorize(ctx, s.authz, s.log, actor, action, nil); err != nil {
		return nil, err
	}

	// Patients can only see their own appointments
	if actor.Role == domain.RolePatient {
		q.UserID = actor.UserID
	}
	if q.Status != nil && !q.Status.IsValid() {
		return nil, &ValidationError{Fields: []string{"status: " + appointment.ErrInvalidStatus.Error()}}
	}
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return s.repo.List(ctx, q)
}

// Activity returns the audit trail of an appointment, trashed or not.
func (s *AppointmentService) Activity(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]*appointment.Activity, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		a, err = s.repo.GetTrashedByID(ctx, id)
		if errors.Is(err, appointment.ErrNotTrashed) {
			err = appointment.ErrAppointmentNotFound
		}
	}
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, s.log, actor, ActionView, a); err != nil {
		return nil, err
	}
	return s.activity.History(ctx, a.ID)
}

func (s *AppointmentService) UpdateStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, cmd *appointment.UpdateStatusCommand) (*appointment.Appointment, error) {
	ctx, span := tracer.Start(ctx, "AppointmentService.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", id.String()), attribute.String("appointment.status", string(cmd.Status)))

	if !cmd.Status.IsValid() {
		return nil, &ValidationError{Fields: []string{"status: " + appointment.ErrInvalidStatus.Error()}}
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, s.log, actor, ActionUpdateStatus, a); err != nil {
		return nil, err
	}

	from := a.Status
	changed, err := a.ApplyStatus(cmd.Status, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if cmd.Notes != nil {
		a.Notes = *cmd.Notes
	}
	if !changed && cmd.Notes == nil {
		return a, nil
	}

	if err := s.repo.Save(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "saving appointment")
		return nil, fmt.Errorf("updating appointment status: %w", err)
	}

	if changed {
		s.transitioned(ctx, actor, a, from, map[string]any{
			"has_notes": cmd.Notes != nil && strings.TrimSpace(*cmd.Notes) != "",
		})
	}
	return a, nil
}

// Cancel returns appointment.ErrAlreadyCancelled, together with the
// unchanged appointment, when there is nothing to do.
func (s *AppointmentService) Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, s.log, actor, ActionUpdate, a); err != nil {
		return nil, err
	}

	from := a.Status
	if err := a.Cancel(s.now().UTC()); err != nil {
		return a, err
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("cancelling appointment: %w", err)
	}

	meta := map[string]any{"has_notes": false}
	if reason = strings.TrimSpace(reason); reason != "" {
		meta["reason"] = reason
	}
	s.transitioned(ctx, actor, a, from, meta)
	return a, nil
}

func (s *AppointmentService) transitioned(ctx context.Context, actor domain.Actor, a *appointment.Appointment, from appointment.Status, meta map[string]any) {
	s.metrics.AppointmentTransition(string(from), string(a.Status))
	s.activity.Record(ctx, ActivityEntry{
		AppointmentID: a.ID,
		UserID:        actor.UserID,
		Action:        appointment.ActionStatusChanged,
		FromStatus:    appointment.StatusPtr(from),
		ToStatus:      appointment.StatusPtr(a.Status),
		Meta:          meta,
	})
	s.notify(ctx, Event{
		Kind:        notification.KindAppointmentStatusChanged,
		Appointment: Summarize(a),
		Context:     map[string]string{KeyOldStatus: string(from), KeyNewStatus: string(a.Status)},
	})
}

func (s *AppointmentService) Reschedule(ctx context.Context, actor domain.Actor, id uuid.UUID, cmd *appointment.RescheduleCommand) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, s.log, actor, ActionUpdate, a); err != nil {
		return nil, err
	}

	from := a.Status
	old, err := a.Reschedule(cmd.Date, cmd.Time, s.loc)
	if err != nil {
		return nil, &ValidationError{Fields: []string{err.Error()}}
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("rescheduling appointment: %w", err)
	}

	slot := a.Slot()
	if from != a.Status {
		s.metrics.AppointmentTransition(string(from), string(a.Status))
	}
	s.activity.Record(ctx, ActivityEntry{
		AppointmentID: a.ID,
		UserID:        actor.UserID,
		Action:        appointment.ActionRescheduled,
		FromStatus:    appointment.StatusPtr(from),
		ToStatus:      appointment.StatusPtr(a.Status),
		Meta: map[string]any{
			"old_date": old.Date,
			"old_time": old.Time,
			"new_date": slot.Date,
			"new_time": slot.Time,
		},
	})
	s.notify(ctx, Event{
		Kind:        notification.KindAppointmentRescheduled,
		Appointment: Summarize(a),
		Context:     map[string]string{KeyOldDate: old.Date, KeyOldTime: old.Time},
	})
	return a, nil
}

func (s *AppointmentService) Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(ctx, s.authz, s.log, actor, ActionDelete, a); err != nil {
		return err
	}

	if err := s.repo.SoftDelete(ctx, a.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("deleting appointment: %w", err)
	}

	s.activity.Record(ctx, ActivityEntry{
		AppointmentID: a.ID,
		UserID:        actor.UserID,
		Action:        appointment.ActionDeleted,
		FromStatus:    appointment.StatusPtr(a.Status),
	})
	return nil
}

// Restore brings a soft-deleted appointment back with the status it had when
// it was deleted. An id that is not in the trash is reported as not found.
func (s *AppointmentService) Restore(ctx context.Context, actor domain.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := s.repo.GetTrashedByID(ctx, id)
	if errors.Is(err, appointment.ErrNotTrashed) {
		return nil, fmt.Errorf("%w: %w", appointment.ErrAppointmentNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, s.log, actor, ActionDelete, a); err != nil {
		return nil, err
	}

	if err := s.repo.Restore(ctx, a.ID); err != nil {
		return nil, fmt.Errorf("restoring appointment: %w", err)
	}
	a.DeletedAt = nil

	s.activity.Record(ctx, ActivityEntry{
		AppointmentID: a.ID,
		UserID:        actor.UserID,
		Action:        appointment.ActionRestored,
		ToStatus:      appointment.StatusPtr(a.Status),
	})
	return a, nil
}

func (s *AppointmentService) notify(ctx context.Context, ev Event) {
	if err := s.notifier.Dispatch(ctx, ev); err != nil {
		s.log.Error("notification dispatch failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("appointment_id", ev.Appointment.ID.String()),
			zap.Error(err),
		)
	}
}
