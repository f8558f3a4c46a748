// Package postgres implements the domain repositories on gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) Create(ctx context.Context, a *appointment.Appointment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appointment.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading appointment: %w", err)
	}
	return &a, nil
}

func (r *AppointmentRepository) GetTrashedByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appointment.ErrNotTrashed
	}
	if err != nil {
		return nil, fmt.Errorf("loading trashed appointment: %w", err)
	}
	return &a, nil
}

// Save overwrites the row. Concurrent writers are last-write-wins.
func (r *AppointmentRepository) Save(ctx context.Context, a *appointment.Appointment) error {
	res := r.db.WithContext(ctx).
		Model(a).
		Where("deleted_at IS NULL").
		Select("preferred_date", "preferred_time", "alternate_date", "alternate_time",
			"scheduled_at", "status", "notes", "intake", "confirmed_at", "cancelled_at", "updated_at").
		Updates(a)
	if res.Error != nil {
		return fmt.Errorf("saving appointment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return appointment.ErrAppointmentNotFound
	}
	return nil
}

func (r *AppointmentRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&appointment.Appointment{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", at)
	if res.Error != nil {
		return fmt.Errorf("soft-deleting appointment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return appointment.ErrAppointmentNotFound
	}
	return nil
}

func (r *AppointmentRepository) Restore(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&appointment.Appointment{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	if res.Error != nil {
		return fmt.Errorf("restoring appointment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return appointment.ErrNotTrashed
	}
	return nil
}

func (r *AppointmentRepository) List(ctx context.Context, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error) {
	tx := r.db.WithContext(ctx).Model(&appointment.Appointment{})

	if q.Trashed {
		tx = tx.Where("deleted_at IS NOT NULL")
	} else {
		tx = tx.Where("deleted_at IS NULL")
	}
	if q.UserID != nil {
		tx = tx.Where("user_id = ?", *q.UserID)
	}
	if q.Status != nil {
		tx = tx.Where("status = ?", *q.Status)
	}
	if q.DateFrom != nil {
		tx = tx.Where("scheduled_at >= ?", *q.DateFrom)
	}
	if q.DateTo != nil {
		tx = tx.Where("scheduled_at <= ?", *q.DateTo)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting appointments: %w", err)
	}

	var items []*appointment.Appointment
	err := tx.Order("scheduled_at ASC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}

	return &appointment.PagedAppointments{
		Appointments: items,
		TotalCount:   total,
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   int(math.Ceil(float64(total) / float64(q.PageSize))),
	}, nil
}

func (r *AppointmentRepository) ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]*appointment.Appointment, error) {
	var items []*appointment.Appointment
	err := r.db.WithContext(ctx).
		Where("status = ? AND deleted_at IS NULL AND scheduled_at BETWEEN ? AND ?",
			appointment.StatusConfirmed, from.UTC(), to.UTC()).
		Order("scheduled_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("listing confirmed appointments: %w", err)
	}
	return items, nil
}
