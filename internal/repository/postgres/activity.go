package postgres

import (
	"context"
	"fmt"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create ignores a conflicting id: a redelivered job writes nothing.
func (r *ActivityRepository) Create(ctx context.Context, a *appointment.Activity) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(a).Error
	if err != nil {
		return fmt.Errorf("inserting appointment activity: %w", err)
	}
	return nil
}

func (r *ActivityRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*appointment.Activity, error) {
	var items []*appointment.Activity
	err := r.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("listing appointment activity: %w", err)
	}
	return items, nil
}
