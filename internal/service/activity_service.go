package service

import (
	"context"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const JobRecordActivity = "appointment.activity"

// ActivityService appends audit trail entries off the request path. Record
// only enqueues; the row is written by HandleJob on a queue worker.
type ActivityService struct {
	repo    appointment.ActivityRepository
	queue   queue.Queue
	log     *zap.Logger
	metrics Metrics
	now     func() time.Time
}

func NewActivityService(repo appointment.ActivityRepository, q queue.Queue, log *zap.Logger, m Metrics) *ActivityService {
	return &ActivityService{repo: repo, queue: q, log: log, metrics: orNop(m), now: time.Now}
}

// WithClock replaces the time source used to stamp entries. Used by tests.
func (s *ActivityService) WithClock(now func() time.Time) *ActivityService {
	s.now = now
	return s
}

// Register installs the activity job handler on mux.
func (s *ActivityService) Register(mux *queue.Mux) {
	mux.RegisterFunc(JobRecordActivity, s.HandleJob)
}

// Record never fails from the caller's point of view. If the entry cannot be
// enqueued it is dropped with an error log. The entry is stamped here, so the
// trail keeps event order however late a worker writes it.
func (s *ActivityService) Record(ctx context.Context, entry ActivityEntry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	job, err := queue.NewJob(JobRecordActivity, entry)
	if err == nil {
		err = s.queue.Enqueue(ctx, job)
	}
	if err != nil {
		s.log.Error("dropping activity entry",
			zap.String("appointment_id", entry.AppointmentID.String()),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}

func (s *ActivityService) HandleJob(ctx context.Context, job queue.Job) error {
	var entry ActivityEntry
	if err := job.Decode(&entry); err != nil {
		return queue.Permanent(err)
	}

	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = job.EnqueuedAt
	}

	a := &appointment.Activity{
		ID:            activityID(job),
		CreatedAt:     occurredAt,
		AppointmentID: entry.AppointmentID,
		UserID:        entry.UserID,
		Action:        entry.Action,
		FromStatus:    entry.FromStatus,
		ToStatus:      entry.ToStatus,
		Meta:          entry.Meta,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return err
	}

	s.metrics.ActivityRecorded(string(entry.Action))
	return nil
}

// History returns the audit trail in creation order.
func (s *ActivityService) History(ctx context.Context, appointmentID uuid.UUID) ([]*appointment.Activity, error) {
	return s.repo.ListByAppointment(ctx, appointmentID)
}

// activityID derives the row id from the job id so a redelivered job
// collides on the primary key instead of inserting a duplicate.
func activityID(job queue.Job) uuid.UUID {
	if id, err := uuid.Parse(job.ID); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(job.ID))
}
