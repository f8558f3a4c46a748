package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the read side of auth.users used to resolve
// notification recipients.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) ListByRole(ctx context.Context, role domain.Role) ([]*domain.User, error) {
	var users []*domain.User
	err := r.db.WithContext(ctx).
		Where("role = ? AND is_active = ? AND deleted_at IS NULL", role, true).
		Order("created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("listing %s users: %w", role, err)
	}
	return users, nil
}
