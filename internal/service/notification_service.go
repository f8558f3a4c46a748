package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/queue"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/mailer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const JobDeliverNotification = "notification.deliver"

// Context keys understood by the templates.
const (
	KeyWhenLabel = "whenLabel"
	KeyOldStatus = "oldStatus"
	KeyNewStatus = "newStatus"
	KeyOldDate   = "oldDate"
	KeyOldTime   = "oldTime"
)

type Recipient struct {
	UserID uuid.UUID   `json:"user_id"`
	Email  string      `json:"email"`
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
}

// AppointmentSummary is the part of an appointment a notification needs.
// It travels inside the job so delivery does not re-read the store.
type AppointmentSummary struct {
	ID        uuid.UUID          `json:"id"`
	PatientID uuid.UUID          `json:"patient_id"`
	Date      string             `json:"date"`
	Time      string             `json:"time"`
	Status    appointment.Status `json:"status"`
}

func Summarize(a *appointment.Appointment) AppointmentSummary {
	slot := a.Slot()
	return AppointmentSummary{
		ID:        a.ID,
		PatientID: a.UserID,
		Date:      slot.Date,
		Time:      slot.Time,
		Status:    a.Status,
	}
}

type Event struct {
	Kind        notification.Kind
	Appointment AppointmentSummary
	Context     map[string]string
}

// EventDispatcher is how the appointment and reminder services hand events
// to the notification pipeline.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

type RecipientResolver interface {
	Recipients(ctx context.Context, ev Event) ([]Recipient, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]*domain.User, error)
}

// DirectoryResolver sends status changes to the patient only and every
// other event to the patient plus all active admins.
type DirectoryResolver struct {
	users UserDirectory
}

func NewDirectoryResolver(users UserDirectory) *DirectoryResolver {
	return &DirectoryResolver{users: users}
}

// Recipients returns everyone it could resolve. A failed lookup is reported
// in the error but does not stop the rest of the fan-out.
func (r *DirectoryResolver) Recipients(ctx context.Context, ev Event) ([]Recipient, error) {
	var (
		users []*domain.User
		errs  []error
	)
	patient, err := r.users.GetUser(ctx, ev.Appointment.PatientID)
	if err != nil {
		errs = append(errs, fmt.Errorf("loading patient %s: %w", ev.Appointment.PatientID, err))
	} else {
		users = append(users, patient)
	}

	if ev.Kind != notification.KindAppointmentStatusChanged {
		admins, err := r.users.ListByRole(ctx, domain.RoleAdmin)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing admins: %w", err))
		}
		users = append(users, admins...)
	}

	seen := make(map[uuid.UUID]bool, len(users))
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		if u == nil || seen[u.ID] || !u.IsActive {
			continue
		}
		seen[u.ID] = true
		out = append(out, Recipient{UserID: u.ID, Email: u.Email, Name: u.FullName(), Role: u.Role})
	}
	return out, errors.Join(errs...)
}

type Rendered struct {
	Kind          notification.Kind
	Subject       string
	Body          string
	AppointmentID uuid.UUID
	Data          map[string]string
}

type Channel interface {
	Name() string
	Deliver(ctx context.Context, to Recipient, msg Rendered) error
}

type MailChannel struct {
	sender mailer.Sender
}

func NewMailChannel(sender mailer.Sender) *MailChannel {
	return &MailChannel{sender: sender}
}

func (*MailChannel) Name() string { return "mail" }

func (c *MailChannel) Deliver(ctx context.Context, to Recipient, msg Rendered) error {
	if to.Email == "" {
		return queue.Permanent(mailer.ErrNoRecipient)
	}
	return c.sender.Send(ctx, mailer.Message{To: to.Email, Subject: msg.Subject, Body: msg.Body})
}

type InAppChannel struct {
	repo notification.Repository
}

func NewInAppChannel(repo notification.Repository) *InAppChannel {
	return &InAppChannel{repo: repo}
}

func (*InAppChannel) Name() string { return "in_app" }

func (c *InAppChannel) Deliver(ctx context.Context, to Recipient, msg Rendered) error {
	appointmentID := msg.AppointmentID
	return c.repo.Create(ctx, &notification.Notification{
		UserID:        to.UserID,
		AppointmentID: &appointmentID,
		Kind:          msg.Kind,
		Title:         msg.Subject,
		Body:          msg.Body,
		Data:          msg.Data,
	})
}

type deliveryJob struct {
	Recipient   Recipient          `json:"recipient"`
	Kind        notification.Kind  `json:"kind"`
	Appointment AppointmentSummary `json:"appointment"`
	Context     map[string]string  `json:"context,omitempty"`
	// Channel restricts delivery to one channel; empty means all of them.
	Channel string `json:"channel,omitempty"`
}

// Dispatcher fans an event out to its recipients. Each (recipient, channel)
// pair becomes its own job so a retry never repeats a delivery that already
// succeeded on another channel.
type Dispatcher struct {
	resolver  RecipientResolver
	channels  []Channel
	templates *TemplateEngine
	queue     queue.Queue
	log       *zap.Logger
	metrics   Metrics
}

func NewDispatcher(
	resolver RecipientResolver,
	channels []Channel,
	templates *TemplateEngine,
	q queue.Queue,
	log *zap.Logger,
	m Metrics,
) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{
		resolver:  resolver,
		channels:  channels,
		templates: templates,
		queue:     q,
		log:       log,
		metrics:   orNop(m),
	}
}

func (d *Dispatcher) Register(mux *queue.Mux) {
	mux.RegisterFunc(JobDeliverNotification, d.HandleJob)
}

// Dispatch resolves recipients and enqueues their deliveries. An error means
// the event was not (fully) accepted for delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	var errs []error
	recipients, err := d.resolver.Recipients(ctx, ev)
	if err != nil {
		if len(recipients) == 0 {
			return fmt.Errorf("resolving recipients: %w", err)
		}
		d.log.Warn("dispatching to partially resolved recipients",
			zap.String("kind", string(ev.Kind)),
			zap.String("appointment_id", ev.Appointment.ID.String()),
			zap.Int("recipients", len(recipients)),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("resolving recipients: %w", err))
	}

	data := make(map[string]string, len(ev.Context)+1)
	for k, v := range ev.Context {
		data[k] = v
	}
	for _, r := range recipients {
		if r.UserID == ev.Appointment.PatientID {
			data["patient_name"] = r.Name
		}
	}

	for _, r := range recipients {
		for _, ch := range d.channels {
			job, err := queue.NewJob(JobDeliverNotification, deliveryJob{
				Recipient:   r,
				Kind:        ev.Kind,
				Appointment: ev.Appointment,
				Context:     data,
				Channel:     ch.Name(),
			})
			if err == nil {
				err = d.queue.Enqueue(ctx, job)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("enqueueing %s for %s: %w", ch.Name(), r.UserID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Notify renders the message for kind and delivers it to one recipient on
// every channel. Channel failures do not stop the remaining channels.
func (d *Dispatcher) Notify(ctx context.Context, to Recipient, kind notification.Kind, appt AppointmentSummary, data map[string]string) error {
	return d.deliver(ctx, d.channels, to, kind, appt, data)
}

func (d *Dispatcher) HandleJob(ctx context.Context, job queue.Job) error {
	var p deliveryJob
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}

	channels := d.channels
	if p.Channel != "" {
		channels = nil
		for _, ch := range d.channels {
			if ch.Name() == p.Channel {
				channels = append(channels, ch)
			}
		}
		if len(channels) == 0 {
			return queue.Permanent(fmt.Errorf("unknown notification channel %q", p.Channel))
		}
	}
	return d.deliver(ctx, channels, p.Recipient, p.Kind, p.Appointment, p.Context)
}

func (d *Dispatcher) deliver(ctx context.Context, channels []Channel, to Recipient, kind notification.Kind, appt AppointmentSummary, data map[string]string) error {
	vars := map[string]string{
		"recipient_name": to.Name,
		"date":           appt.Date,
		"time":           appt.Time,
		"status":         string(appt.Status),
	}
	for k, v := range data {
		vars[k] = v
	}
	if _, ok := vars["patient_name"]; !ok && to.UserID == appt.PatientID {
		vars["patient_name"] = to.Name
	}

	subject, body, err := d.templates.Render(kind, vars)
	if err != nil {
		return queue.Permanent(err)
	}
	msg := Rendered{
		Kind:          kind,
		Subject:       subject,
		Body:          body,
		AppointmentID: appt.ID,
		Data:          data,
	}

	var errs []error
	for _, ch := range channels {
		err := ch.Deliver(ctx, to, msg)
		d.metrics.NotificationDelivered(ch.Name(), err == nil)
		if err != nil {
			d.log.Warn("notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("kind", string(kind)),
				zap.String("user_id", to.UserID.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// InboxService reads and acknowledges in-app notifications.
type InboxService struct {
	repo notification.Repository
}

func NewInboxService(repo notification.Repository) *InboxService {
	return &InboxService{repo: repo}
}

const defaultInboxLimit = 50

func (s *InboxService) List(ctx context.Context, actor domain.Actor, unreadOnly bool, limit int) ([]*notification.Notification, error) {
	if actor.UserID == nil {
		return nil, ErrUnauthorized
	}
	if limit <= 0 || limit > 200 {
		limit = defaultInboxLimit
	}
	return s.repo.ListByUser(ctx, *actor.UserID, unreadOnly, limit)
}

func (s *InboxService) MarkRead(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if actor.UserID == nil {
		return ErrUnauthorized
	}
	return s.repo.MarkRead(ctx, id, *actor.UserID, time.Now().UTC())
}
