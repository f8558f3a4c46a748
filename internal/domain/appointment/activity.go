package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreated       Action = "created"
	ActionStatusChanged Action = "status_changed"
	ActionRescheduled   Action = "rescheduled"
	ActionDeleted       Action = "deleted"
	ActionRestored      Action = "restored"
)

// Activity is one entry of an appointment's audit trail. Entries are only
// ever inserted. CreatedAt is when the change happened, which can be earlier
// than when the row was written; it is the trail order.
type Activity struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`

	AppointmentID uuid.UUID `gorm:"column:appointment_id;type:uuid;not null;index"`
	// Nil when the change was made by the system.
	UserID *uuid.UUID `gorm:"column:user_id;type:uuid;index"`

	Action     Action  `gorm:"column:action;type:varchar(40);not null;index"`
	FromStatus *Status `gorm:"column:from_status;type:varchar(30)"`
	ToStatus   *Status `gorm:"column:to_status;type:varchar(30)"`

	Meta map[string]any `gorm:"column:meta;serializer:json"`
}

func (Activity) TableName() string {
	return "clinical.appointment_activities"
}

// StatusPtr is a helper for building activity entries.
func StatusPtr(s Status) *Status {
	return &s
}
