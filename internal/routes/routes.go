package routes

import (
	"net/http"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/config"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	v1 "github.com/dmehra2102/prod-golang-projects/clinicflow/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/middleware"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Deps struct {
	Log     *zap.Logger
	Metrics *metrics.Collector
	// Served on /metrics when set.
	MetricsHandler http.Handler

	Tokens     middleware.TokenValidator
	CORS       config.CORSConfig
	RateLimit  config.RateLimitConfig
	CronSecret string

	Appointments v1.AppointmentUseCase
	Inbox        v1.InboxUseCase
	Reminders    v1.ReminderRunner
	DB           v1.Pinger
	Version      string
}

// New builds the HTTP router with the full middleware chain.
func New(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(d.Log),
		middleware.Logger(d.Log),
	)
	var onLimited func()
	if d.Metrics != nil {
		router.Use(middleware.Metrics(d.Metrics))
		onLimited = d.Metrics.RateLimitedTotal.Inc
	}
	router.Use(middleware.CORS(d.CORS))

	SetupRoutes(router, d, onLimited)
	return router
}

func SetupRoutes(router *gin.Engine, d Deps, onLimited func()) {
	appointmentHandler := v1.NewAppointmentHandler(d.Appointments)
	notificationHandler := v1.NewNotificationHandler(d.Inbox)
	reminderHandler := v1.NewReminderHandler(d.Reminders)
	healthHandler := v1.NewHealthHandler(d.DB, d.Version)

	router.GET("/healthz", healthHandler.Health)
	if d.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(d.MetricsHandler))
	}

	// Reminder triggers for an external scheduler. The secret check runs
	// before any appointment is scanned.
	cron := router.Group("/cron")
	cron.Use(
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: float64(d.RateLimit.CronRequestsPerMinute) / 60,
			BurstSize:         max(1, d.RateLimit.CronRequestsPerMinute/6),
		}, onLimited),
		middleware.CronSecret(d.CronSecret),
	)
	{
		cron.GET("/reminders", reminderHandler.SendDefault)
		cron.GET("/reminders/:window", reminderHandler.SendWindow)
	}

	api := router.Group("/api/v1")
	api.Use(
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: d.RateLimit.RequestsPerSecond,
			BurstSize:         d.RateLimit.BurstSize,
		}, onLimited),
		middleware.Auth(d.Tokens),
	)
	{
		appointments := api.Group("/appointments")
		{
			appointments.POST("", appointmentHandler.Book)
			appointments.GET("", appointmentHandler.List)
			appointments.GET("/:id", appointmentHandler.Get)
			appointments.GET("/:id/activity", appointmentHandler.Activity)
			appointments.POST("/:id/cancel", appointmentHandler.Cancel)
			appointments.PATCH("/:id/reschedule", appointmentHandler.Reschedule)

			staffOnly := appointments.Group("")
			staffOnly.Use(middleware.RequireRoles(domain.RoleAdmin, domain.RoleStaff))
			{
				staffOnly.PATCH("/:id/status", appointmentHandler.UpdateStatus)
				staffOnly.DELETE("/:id", appointmentHandler.Delete)
				staffOnly.POST("/:id/restore", appointmentHandler.Restore)
			}
		}

		notifications := api.Group("/notifications")
		{
			notifications.GET("", notificationHandler.List)
			notifications.POST("/:id/read", notificationHandler.MarkRead)
		}
	}
}
