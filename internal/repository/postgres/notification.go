package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*notification.Notification, error) {
	tx := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		tx = tx.Where("read_at IS NULL")
	}

	var items []*notification.Notification
	if err := tx.Order("created_at DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return items, nil
}

// MarkRead keeps the first read time when called again.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&notification.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read_at", gorm.Expr("COALESCE(read_at, ?)", at))
	if res.Error != nil {
		return fmt.Errorf("marking notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notification.ErrNotificationNotFound
	}
	return nil
}
