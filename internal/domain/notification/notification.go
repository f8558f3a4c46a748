package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAppointmentCreated       Kind = "appointment_created"
	KindAppointmentStatusChanged Kind = "appointment_status_changed"
	KindAppointmentRescheduled   Kind = "appointment_rescheduled"
	KindAppointmentReminder      Kind = "appointment_reminder"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindAppointmentCreated, KindAppointmentStatusChanged, KindAppointmentRescheduled, KindAppointmentReminder:
		return true
	}
	return false
}

var ErrNotificationNotFound = errors.New("notification not found")

// Notification is the in-app copy of a message shown in the user's inbox.
type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`

	UserID        uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index"`
	AppointmentID *uuid.UUID `gorm:"column:appointment_id;type:uuid;index"`

	Kind  Kind              `gorm:"column:kind;type:varchar(50);not null;index"`
	Title string            `gorm:"column:title;type:varchar(255);not null"`
	Body  string            `gorm:"column:body;type:text"`
	Data  map[string]string `gorm:"column:data;serializer:json"`

	ReadAt *time.Time `gorm:"column:read_at;index"`
}

func (Notification) TableName() string {
	return "clinical.notifications"
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error)

	// MarkRead returns ErrNotificationNotFound unless the notification belongs to userID.
	MarkRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error
}
