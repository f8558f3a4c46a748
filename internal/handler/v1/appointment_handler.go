package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AppointmentUseCase is implemented by *service.AppointmentService.
type AppointmentUseCase interface {
	Book(ctx context.Context, actor domain.Actor, cmd *appointment.BookAppointmentCommand) (*appointment.Appointment, error)
	Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, actor domain.Actor, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error)
	Activity(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]*appointment.Activity, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, cmd *appointment.UpdateStatusCommand) (*appointment.Appointment, error)
	Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, actor domain.Actor, id uuid.UUID, cmd *appointment.RescheduleCommand) (*appointment.Appointment, error)
	Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error
	Restore(ctx context.Context, actor domain.Actor, id uuid.UUID) (*appointment.Appointment, error)
}

type AppointmentHandler struct {
	svc AppointmentUseCase
}

func NewAppointmentHandler(svc AppointmentUseCase) *AppointmentHandler {
	return &AppointmentHandler{svc: svc}
}

type bookAppointmentRequest struct {
	// Ignored for patients, who always book for themselves.
	UserID        *uuid.UUID         `json:"user_id"`
	PreferredDate string             `json:"preferred_date" binding:"required"`
	PreferredTime string             `json:"preferred_time" binding:"required"`
	AlternateDate string             `json:"alternate_date"`
	AlternateTime string             `json:"alternate_time"`
	Notes         string             `json:"notes"`
	Intake        appointment.Intake `json:"intake"`
}

type updateStatusRequest struct {
	Status appointment.Status `json:"status" binding:"required"`
	Notes  *string            `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type rescheduleRequest struct {
	Date string `json:"date" binding:"required"`
	Time string `json:"time" binding:"required"`
}

type appointmentResponse struct {
	ID            uuid.UUID          `json:"id"`
	UserID        uuid.UUID          `json:"user_id"`
	PreferredDate string             `json:"preferred_date"`
	PreferredTime string             `json:"preferred_time"`
	AlternateDate *string            `json:"alternate_date,omitempty"`
	AlternateTime *string            `json:"alternate_time,omitempty"`
	ScheduledAt   time.Time          `json:"scheduled_at"`
	Status        appointment.Status `json:"status"`
	Notes         string             `json:"notes,omitempty"`
	Intake        appointment.Intake `json:"intake"`
	ConfirmedAt   *time.Time         `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
	DeletedAt     *time.Time         `json:"deleted_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:            a.ID,
		UserID:        a.UserID,
		PreferredDate: a.PreferredDate.Format(appointment.DateLayout),
		PreferredTime: a.PreferredTime,
		AlternateTime: a.AlternateTime,
		ScheduledAt:   a.ScheduledAt,
		Status:        a.Status,
		Notes:         a.Notes,
		Intake:        a.Intake,
		ConfirmedAt:   a.ConfirmedAt,
		CancelledAt:   a.CancelledAt,
		DeletedAt:     a.DeletedAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	if a.AlternateDate != nil {
		d := a.AlternateDate.Format(appointment.DateLayout)
		resp.AlternateDate = &d
	}
	return resp
}

type pagedAppointmentsResponse struct {
	Appointments []appointmentResponse `json:"appointments"`
	TotalCount   int64                 `json:"total_count"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
	TotalPages   int                   `json:"total_pages"`
}

type activityResponse struct {
	ID         uuid.UUID           `json:"id"`
	UserID     *uuid.UUID          `json:"user_id,omitempty"`
	Action     appointment.Action  `json:"action"`
	FromStatus *appointment.Status `json:"from_status,omitempty"`
	ToStatus   *appointment.Status `json:"to_status,omitempty"`
	Meta       map[string]any      `json:"meta,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func (h *AppointmentHandler) Book(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req bookAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}

	cmd := &appointment.BookAppointmentCommand{
		PreferredDate: req.PreferredDate,
		PreferredTime: req.PreferredTime,
		AlternateDate: req.AlternateDate,
		AlternateTime: req.AlternateTime,
		Notes:         req.Notes,
		Intake:        req.Intake,
	}
	if req.UserID != nil {
		cmd.UserID = *req.UserID
	}

	a, err := h.svc.Book(c.Request.Context(), actor, cmd)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, toAppointmentResponse(a))
}

// List supports ?status=&user_id=&date_from=&date_to=&trashed=&page=&page_size=.
func (h *AppointmentHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	q := &appointment.ListAppointmentsQuery{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 20),
	}
	if raw := c.Query("status"); raw != "" {
		s := appointment.Status(raw)
		q.Status = &s
	}
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid user_id: must be a valid UUID")
			return
		}
		q.UserID = &id
	}
	for key, dst := range map[string]**time.Time{"date_from": &q.DateFrom, "date_to": &q.DateTo} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		d, err := time.Parse(appointment.DateLayout, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid "+key+": "+appointment.ErrInvalidDate.Error())
			return
		}
		*dst = &d
	}
	if raw := c.Query("trashed"); raw != "" {
		trashed, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid trashed: must be a boolean")
			return
		}
		q.Trashed = trashed
	}

	page, err := h.svc.List(c.Request.Context(), actor, q)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := pagedAppointmentsResponse{
		Appointments: make([]appointmentResponse, 0, len(page.Appointments)),
		TotalCount:   page.TotalCount,
		Page:         page.Page,
		PageSize:     page.PageSize,
		TotalPages:   page.TotalPages,
	}
	for _, a := range page.Appointments {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
	}
	respondOK(c, resp)
}

func (h *AppointmentHandler) Get(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.svc.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toAppointmentResponse(a))
}

func (h *AppointmentHandler) UpdateStatus(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.svc.UpdateStatus(c.Request.Context(), actor, id, &appointment.UpdateStatusCommand{
		Status: req.Status,
		Notes:  req.Notes,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toAppointmentResponse(a))
}

// Cancel answers 200 for an appointment that was already cancelled; the
// request is a no-op in that case.
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req cancelRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	a, err := h.svc.Cancel(c.Request.Context(), actor, id, req.Reason)
	if errors.Is(err, appointment.ErrAlreadyCancelled) && a != nil {
		c.JSON(http.StatusOK, APIResponse[appointmentResponse]{
			Data:    toAppointmentResponse(a),
			Message: appointment.ErrAlreadyCancelled.Error(),
		})
		return
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse[appointmentResponse]{
		Data:    toAppointmentResponse(a),
		Message: "appointment cancelled",
	})
}

func (h *AppointmentHandler) Reschedule(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req rescheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.svc.Reschedule(c.Request.Context(), actor, id, &appointment.RescheduleCommand{
		Date: req.Date,
		Time: req.Time,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toAppointmentResponse(a))
}

func (h *AppointmentHandler) Delete(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), actor, id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AppointmentHandler) Restore(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.svc.Restore(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toAppointmentResponse(a))
}

func (h *AppointmentHandler) Activity(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	items, err := h.svc.Activity(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := make([]activityResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, activityResponse{
			ID:         it.ID,
			UserID:     it.UserID,
			Action:     it.Action,
			FromStatus: it.FromStatus,
			ToStatus:   it.ToStatus,
			Meta:       it.Meta,
			CreatedAt:  it.CreatedAt,
		})
	}
	respondOK(c, resp)
}
