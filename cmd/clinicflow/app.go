package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/config"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/queue"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/repository/postgres"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/service"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/database"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/mailer"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds everything the commands share: storage, the job queue and the
// services wired on top of them.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	metrics *metrics.Collector

	worker queue.Worker

	appointments *service.AppointmentService
	reminders    *service.ReminderService
	inbox        *service.InboxService
}

func newApp(cfg *config.Config, log *zap.Logger, m *metrics.Collector) (*app, error) {
	loc, err := cfg.App.Location()
	if err != nil {
		return nil, fmt.Errorf("loading time zone: %w", err)
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	appointmentRepo := postgres.NewAppointmentRepository(db)
	activityRepo := postgres.NewActivityRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)
	userRepo := postgres.NewUserRepository(db)

	// Handlers register on the mux after the queue exists; services need
	// the queue to enqueue, the queue needs the mux to dispatch.
	mux := queue.NewMux()
	q, worker := newQueue(cfg.Queue, mux, log, m)

	activity := service.NewActivityService(activityRepo, q, log.Named("activity"), m)
	activity.Register(mux)

	channels := []service.Channel{
		service.NewInAppChannel(notificationRepo),
		service.NewMailChannel(newMailer(cfg.Mail, log)),
	}
	dispatcher := service.NewDispatcher(
		service.NewDirectoryResolver(userRepo),
		channels,
		service.NewTemplateEngine(),
		q,
		log.Named("notifications"),
		m,
	)
	dispatcher.Register(mux)

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		metrics: m,
		worker:  worker,
		appointments: service.NewAppointmentService(
			appointmentRepo, activity, dispatcher, service.PolicyAuthorizer{}, loc, log.Named("appointments"), m,
		),
		reminders: service.NewReminderService(appointmentRepo, dispatcher, cfg.Reminder.Tolerance, log.Named("reminders"), m),
		inbox:     service.NewInboxService(notificationRepo),
	}, nil
}

type jobQueue interface {
	queue.Queue
	queue.Worker
}

func newQueue(cfg config.QueueConfig, h queue.Handler, log *zap.Logger, obs queue.Observer) (queue.Queue, queue.Worker) {
	retry := queue.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Backoff}

	var q jobQueue
	switch cfg.Driver {
	case "kafka":
		q = queue.NewKafkaQueue(h, queue.KafkaOptions{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
			Retry:   retry,
		}, log.Named("queue"), obs)
	default:
		q = queue.NewMemoryQueue(h, queue.MemoryOptions{
			BufferSize: cfg.BufferSize,
			Workers:    cfg.Workers,
			Retry:      retry,
		}, log.Named("queue"), obs)
	}
	log.Info("job queue configured", zap.String("driver", cfg.Driver))
	return q, q
}

func newMailer(cfg config.MailConfig, log *zap.Logger) mailer.Sender {
	if cfg.Driver != "smtp" {
		return mailer.NewLogSender(log.Named("mailer"))
	}
	smtp := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		From:        cfg.From,
		ImplicitTLS: cfg.Port == 465,
	})
	return mailer.NewBreakerSender(smtp, mailer.BreakerConfig{
		Name:        "smtp",
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
	}, log.Named("mailer"))
}

// close drains the queue and then releases the database.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.worker.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining queue: %w", err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
