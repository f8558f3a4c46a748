package v1

import (
	"context"
	"net/http"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/service"
	"github.com/gin-gonic/gin"
)

// ReminderRunner is implemented by *service.ReminderService.
type ReminderRunner interface {
	Send(ctx context.Context, w service.Window) (service.ReminderResult, error)
	SendDefault(ctx context.Context) ([]service.ReminderResult, error)
}

// ReminderHandler serves the externally scheduled reminder triggers. The
// routes sit behind middleware.CronSecret.
type ReminderHandler struct {
	runner ReminderRunner
}

func NewReminderHandler(runner ReminderRunner) *ReminderHandler {
	return &ReminderHandler{runner: runner}
}

type reminderRunResponse struct {
	Results []service.ReminderResult `json:"results"`
}

// SendDefault runs the 24h and 30m windows.
func (h *ReminderHandler) SendDefault(c *gin.Context) {
	results, err := h.runner.SendDefault(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reminder run failed",
			"results": results,
		})
		return
	}
	respondOK(c, reminderRunResponse{Results: results})
}

func (h *ReminderHandler) SendWindow(c *gin.Context) {
	w, err := service.ParseWindow(c.Param("window"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	res, err := h.runner.Send(c.Request.Context(), w)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, reminderRunResponse{Results: []service.ReminderResult{res}})
}
