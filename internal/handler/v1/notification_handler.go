package v1

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// InboxUseCase is implemented by *service.InboxService.
type InboxUseCase interface {
	List(ctx context.Context, actor domain.Actor, unreadOnly bool, limit int) ([]*notification.Notification, error)
	MarkRead(ctx context.Context, actor domain.Actor, id uuid.UUID) error
}

type NotificationHandler struct {
	inbox InboxUseCase
}

func NewNotificationHandler(inbox InboxUseCase) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

type notificationResponse struct {
	ID            uuid.UUID         `json:"id"`
	AppointmentID *uuid.UUID        `json:"appointment_id,omitempty"`
	Kind          notification.Kind `json:"kind"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Data          map[string]string `json:"data,omitempty"`
	ReadAt        *time.Time        `json:"read_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// List returns the caller's notifications, newest first. ?unread=true
// filters out read ones.
func (h *NotificationHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	unread, _ := strconv.ParseBool(c.Query("unread"))
	items, err := h.inbox.List(c.Request.Context(), actor, unread, parseQueryInt(c, "limit", 0))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		resp = append(resp, notificationResponse{
			ID:            n.ID,
			AppointmentID: n.AppointmentID,
			Kind:          n.Kind,
			Title:         n.Title,
			Body:          n.Body,
			Data:          n.Data,
			ReadAt:        n.ReadAt,
			CreatedAt:     n.CreatedAt,
		})
	}
	respondOK(c, resp)
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.inbox.MarkRead(c.Request.Context(), actor, id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse[any]{Message: "notification marked as read"})
}
