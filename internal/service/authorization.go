package service

import (
	"context"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"go.uber.org/zap"
)

type Action string

const (
	ActionView         Action = "view"
	ActionUpdate       Action = "update"
	ActionUpdateStatus Action = "update_status"
	ActionDelete       Action = "delete"
)

// Authorizer answers whether actor may perform action on a. A nil appointment
// asks about the action in general (e.g. booking or listing).
type Authorizer interface {
	Can(ctx context.Context, actor domain.Actor, action Action, a *appointment.Appointment) (bool, error)
}

// PolicyAuthorizer is the role based policy: admin and staff may do anything,
// patients may view and update their own appointments.
type PolicyAuthorizer struct{}

func (PolicyAuthorizer) Can(_ context.Context, actor domain.Actor, action Action, a *appointment.Appointment) (bool, error) {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleStaff:
		return true, nil
	case domain.RolePatient:
		if action != ActionView && action != ActionUpdate {
			return false, nil
		}
		if a == nil {
			return true, nil
		}
		return actor.Is(a.UserID), nil
	default:
		return false, nil
	}
}

// authorize collapses every authorizer outcome that is not an explicit
// allow into ErrForbidden.
func authorize(ctx context.Context, authz Authorizer, log *zap.Logger, actor domain.Actor, action Action, a *appointment.Appointment) error {
	ok, err := authz.Can(ctx, actor, action, a)
	if err != nil {
		log.Warn("authorization check failed, denying",
			zap.String("action", string(action)),
			zap.String("role", string(actor.Role)),
			zap.Error(err),
		)
		return ErrForbidden
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
