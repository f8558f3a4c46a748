package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error

	// GetByID returns a non-trashed appointment or ErrAppointmentNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// GetTrashedByID returns a soft-deleted appointment or ErrNotTrashed.
	GetTrashedByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Save writes every mutable column of a.
	Save(ctx context.Context, a *Appointment) error

	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	Restore(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, q *ListAppointmentsQuery) (*PagedAppointments, error)

	// ListConfirmedBetween returns confirmed, non-trashed appointments whose
	// ScheduledAt lies in [from, to]. Used by the reminder job.
	ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]*Appointment, error)
}

type ActivityRepository interface {
	Create(ctx context.Context, a *Activity) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Activity, error)
}
