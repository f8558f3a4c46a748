package service

import (
	"errors"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/google/uuid"
)

var (
	ErrForbidden    = errors.New("forbidden: insufficient permissions")
	ErrUnauthorized = errors.New("unauthorized")
)

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) add(field string) {
	e.Fields = append(e.Fields, field)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ActivityEntry is what callers hand to the activity recorder. It is also the
// job payload, so every field must survive a JSON round trip.
type ActivityEntry struct {
	AppointmentID uuid.UUID           `json:"appointment_id"`
	UserID        *uuid.UUID          `json:"user_id,omitempty"`
	Action        appointment.Action  `json:"action"`
	FromStatus    *appointment.Status `json:"from_status,omitempty"`
	ToStatus      *appointment.Status `json:"to_status,omitempty"`
	Meta          map[string]any      `json:"meta,omitempty"`
	// OccurredAt orders the trail. Record stamps it when left zero.
	OccurredAt time.Time `json:"occurred_at"`
}
