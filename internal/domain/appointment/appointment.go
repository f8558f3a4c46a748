package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Any status may be set from any other status; only the value itself is
// validated. A reschedule always returns the appointment to pending.
//
//	pending ⇄ confirmed ⇄ completed ⇄ cancelled
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

type Insurance struct {
	Provider      string `json:"provider"`
	PolicyNumber  string `json:"policy_number"`
	GroupNumber   string `json:"group_number"`
	PrimaryHolder string `json:"primary_holder"`
}

type EmergencyContact struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
}

type MedicalHistory struct {
	ReasonForVisit     string   `json:"reason_for_visit"`
	CurrentMedications []string `json:"current_medications"`
	Allergies          []string `json:"allergies"`
	PreviousTreatment  bool     `json:"previous_treatment"`
	PreviousDiagnoses  []string `json:"previous_diagnoses"`
	SubstanceUse       string   `json:"substance_use"`
}

type Consent struct {
	Treatment  bool `json:"treatment"`
	Privacy    bool `json:"privacy"`
	Telehealth bool `json:"telehealth"`
}

// Intake is the booking questionnaire. The lifecycle never looks inside it.
type Intake struct {
	FullName         string            `json:"full_name"`
	Email            string            `json:"email"`
	Phone            string            `json:"phone"`
	DateOfBirth      string            `json:"date_of_birth"`
	Gender           string            `json:"gender"`
	Address          string            `json:"address"`
	Insurance        *Insurance        `json:"insurance,omitempty"`
	EmergencyContact *EmergencyContact `json:"emergency_contact,omitempty"`
	MedicalHistory   MedicalHistory    `json:"medical_history"`
	Consent          Consent           `json:"consent"`
}

type Appointment struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	// Owning patient
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	PreferredDate time.Time  `gorm:"column:preferred_date;type:date;not null"`
	PreferredTime string     `gorm:"column:preferred_time;type:varchar(8);not null"`
	AlternateDate *time.Time `gorm:"column:alternate_date;type:date"`
	AlternateTime *string    `gorm:"column:alternate_time;type:varchar(8)"`

	// ScheduledAt is PreferredDate + PreferredTime in the clinic time zone,
	// kept in sync on create and reschedule so windows compare instants.
	ScheduledAt time.Time `gorm:"column:scheduled_at;not null;index"`

	Status Status `gorm:"column:status;type:varchar(30);not null;default:'pending';index"`
	Notes  string `gorm:"column:notes;type:text"`

	Intake Intake `gorm:"column:intake;serializer:json"`

	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
}

func (Appointment) TableName() string {
	return "clinical.appointments"
}

func (a *Appointment) IsTrashed() bool {
	return a.DeletedAt != nil
}

// Slot is the textual date/time pair shown to people and stored in activity metadata.
type Slot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (a *Appointment) Slot() Slot {
	return Slot{Date: a.PreferredDate.Format(DateLayout), Time: a.PreferredTime}
}

// ApplyStatus moves the appointment to s. It reports whether the status
// actually changed; an unchanged status leaves every field untouched.
func (a *Appointment) ApplyStatus(s Status, now time.Time) (bool, error) {
	if !s.IsValid() {
		return false, ErrInvalidStatus
	}
	if a.Status == s {
		return false, nil
	}

	a.Status = s
	a.ConfirmedAt = nil
	a.CancelledAt = nil

	switch s {
	case StatusConfirmed:
		a.ConfirmedAt = &now
	case StatusCancelled:
		a.CancelledAt = &now
	}
	return true, nil
}

func (a *Appointment) Cancel(now time.Time) error {
	if a.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	_, err := a.ApplyStatus(StatusCancelled, now)
	return err
}

// Reschedule moves the appointment to a new date and time and resets it to
// pending whatever its previous status. The previous slot is returned.
func (a *Appointment) Reschedule(date, clock string, loc *time.Location) (Slot, error) {
	d, err := ParseDate(date, loc)
	if err != nil {
		return Slot{}, err
	}
	normalized, err := NormalizeTime(clock)
	if err != nil {
		return Slot{}, err
	}
	at, err := CombineSchedule(d, normalized, loc)
	if err != nil {
		return Slot{}, err
	}

	old := a.Slot()
	a.PreferredDate = d
	a.PreferredTime = normalized
	a.ScheduledAt = at
	a.Status = StatusPending
	a.ConfirmedAt = nil
	a.CancelledAt = nil
	return old, nil
}

func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// NormalizeTime accepts HH:MM or HH:MM:SS and returns HH:MM:SS.
func NormalizeTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimeLayout, "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	return "", ErrInvalidTime
}

// CombineSchedule joins a calendar date and a time of day into one instant in loc.
func CombineSchedule(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	normalized, err := NormalizeTime(clock)
	if err != nil {
		return time.Time{}, err
	}
	t, _ := time.Parse(TimeLayout, normalized)
	y, mo, d := date.Date()
	return time.Date(y, mo, d, t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

type BookAppointmentCommand struct {
	UserID        uuid.UUID
	PreferredDate string
	PreferredTime string
	AlternateDate string
	AlternateTime string
	Notes         string
	Intake        Intake
}

type UpdateStatusCommand struct {
	Status Status
	Notes  *string
}

type RescheduleCommand struct {
	Date string
	Time string
}

type ListAppointmentsQuery struct {
	UserID   *uuid.UUID
	Status   *Status
	DateFrom *time.Time
	DateTo   *time.Time
	Trashed  bool
	Page     int
	PageSize int
}

type PagedAppointments struct {
	Appointments []*Appointment
	TotalCount   int64
	Page         int
	PageSize     int
	TotalPages   int
}
