package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
	RolePatient Role = "patient"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RolePatient:
		return true
	}
	return false
}

type User struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	Email     string `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	FirstName string `gorm:"column:first_name;type:varchar(100);not null"`
	LastName  string `gorm:"column:last_name;type:varchar(100);not null"`
	Role      Role   `gorm:"column:role;type:varchar(30);not null;index"`

	IsActive bool `gorm:"column:is_active;default:true;index"`
}

func (User) TableName() string {
	return "auth.users"
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Actor identifies who performs an operation. A nil UserID means the system
// itself (scheduler, background jobs).
type Actor struct {
	UserID *uuid.UUID
	Role   Role
}

// SystemActor is used by jobs that run without a requesting user.
var SystemActor = Actor{Role: RoleAdmin}

func NewActor(id uuid.UUID, role Role) Actor {
	return Actor{UserID: &id, Role: role}
}

// Is reports whether the actor is the given user.
func (a Actor) Is(id uuid.UUID) bool {
	return a.UserID != nil && *a.UserID == id
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"` // Always "Bearer"
}

type Claims struct {
	UserID uuid.UUID `json:"sub"`
	Email  string    `json:"email"`
	Role   Role      `json:"role"`
}
