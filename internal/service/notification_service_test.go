package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/queue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type directoryFixture struct {
	patient *domain.User
	admin1  *domain.User
	admin2  *domain.User
	dir     *memDirectory
}

func newDirectoryFixture() directoryFixture {
	f := directoryFixture{
		patient: newUser(domain.RolePatient, "Pat", "pat@clinic.test"),
		admin1:  newUser(domain.RoleAdmin, "Ann", "ann@clinic.test"),
		admin2:  newUser(domain.RoleAdmin, "Bob", "bob@clinic.test"),
	}
	retired := newUser(domain.RoleAdmin, "Old", "old@clinic.test")
	retired.IsActive = false
	staff := newUser(domain.RoleStaff, "Sam", "sam@clinic.test")
	f.dir = &memDirectory{users: []*domain.User{f.patient, f.admin1, f.admin2, retired, staff}}
	return f
}

func (f directoryFixture) event(kind notification.Kind) Event {
	return Event{
		Kind: kind,
		Appointment: AppointmentSummary{
			ID:        uuid.New(),
			PatientID: f.patient.ID,
			Date:      "2024-01-02",
			Time:      "09:00:00",
			Status:    appointment.StatusConfirmed,
		},
	}
}

func recipientIDs(rs []Recipient) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.UserID)
	}
	return ids
}

func TestDirectoryResolver(t *testing.T) {
	f := newDirectoryFixture()
	r := NewDirectoryResolver(f.dir)

	for _, kind := range []notification.Kind{
		notification.KindAppointmentCreated,
		notification.KindAppointmentRescheduled,
		notification.KindAppointmentReminder,
	} {
		t.Run(string(kind), func(t *testing.T) {
			got, err := r.Recipients(context.Background(), f.event(kind))
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{f.patient.ID, f.admin1.ID, f.admin2.ID}, recipientIDs(got))
		})
	}

	t.Run("status change goes to the patient only", func(t *testing.T) {
		got, err := r.Recipients(context.Background(), f.event(notification.KindAppointmentStatusChanged))
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{f.patient.ID}, recipientIDs(got))
	})

	t.Run("admin booking for themselves is notified once", func(t *testing.T) {
		ev := f.event(notification.KindAppointmentCreated)
		ev.Appointment.PatientID = f.admin1.ID

		got, err := r.Recipients(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{f.admin1.ID, f.admin2.ID}, recipientIDs(got))
	})

	t.Run("missing patient still reaches admins", func(t *testing.T) {
		f.dir.getErr = errors.New("user not found")
		defer func() { f.dir.getErr = nil }()

		got, err := r.Recipients(context.Background(), f.event(notification.KindAppointmentCreated))
		assert.ErrorContains(t, err, "loading patient")
		assert.Equal(t, []uuid.UUID{f.admin1.ID, f.admin2.ID}, recipientIDs(got))

		got, err = r.Recipients(context.Background(), f.event(notification.KindAppointmentStatusChanged))
		assert.Error(t, err)
		assert.Empty(t, got)
	})
}

func TestDispatcher_Dispatch_EnqueuesPerRecipientAndChannel(t *testing.T) {
	f := newDirectoryFixture()
	q := &recordingQueue{}
	channels := []Channel{NewMailChannel(&stubMailer{}), NewInAppChannel(&memNotificationRepo{})}
	d := NewDispatcher(NewDirectoryResolver(f.dir), channels, nil, q, zap.NewNop(), nil)

	require.NoError(t, d.Dispatch(context.Background(), f.event(notification.KindAppointmentReminder)))

	jobs := q.all()
	require.Len(t, jobs, 6)
	for _, job := range jobs {
		assert.Equal(t, JobDeliverNotification, job.Type)
	}

	var p deliveryJob
	require.NoError(t, jobs[0].Decode(&p))
	assert.Equal(t, f.patient.ID, p.Recipient.UserID)
	assert.Equal(t, "mail", p.Channel)
	assert.Equal(t, "Pat Test", p.Context["patient_name"])
}

func TestDispatcher_Dispatch_Errors(t *testing.T) {
	f := newDirectoryFixture()
	channels := []Channel{NewInAppChannel(&memNotificationRepo{})}

	t.Run("resolver", func(t *testing.T) {
		dir := &memDirectory{err: errors.New("db down")}
		d := NewDispatcher(NewDirectoryResolver(dir), channels, nil, &recordingQueue{}, zap.NewNop(), nil)
		assert.ErrorContains(t, d.Dispatch(context.Background(), f.event(notification.KindAppointmentCreated)), "db down")
	})

	t.Run("missing patient", func(t *testing.T) {
		dir := &memDirectory{users: []*domain.User{f.admin1, f.admin2}, getErr: errors.New("user not found")}
		q := &recordingQueue{}
		d := NewDispatcher(NewDirectoryResolver(dir), channels, nil, q, zap.NewNop(), nil)

		err := d.Dispatch(context.Background(), f.event(notification.KindAppointmentReminder))
		assert.ErrorContains(t, err, "user not found")

		jobs := q.all()
		require.Len(t, jobs, 2)
		var p deliveryJob
		require.NoError(t, jobs[0].Decode(&p))
		assert.Equal(t, f.admin1.ID, p.Recipient.UserID)
	})

	t.Run("queue", func(t *testing.T) {
		q := &recordingQueue{err: queue.ErrQueueFull}
		d := NewDispatcher(NewDirectoryResolver(f.dir), channels, nil, q, zap.NewNop(), nil)
		assert.ErrorIs(t, d.Dispatch(context.Background(), f.event(notification.KindAppointmentCreated)), queue.ErrQueueFull)
	})
}

func TestDispatcher_Notify_ChannelFailureDoesNotStopOthers(t *testing.T) {
	f := newDirectoryFixture()
	mail := &stubMailer{err: errors.New("relay down")}
	inbox := &memNotificationRepo{}
	d := NewDispatcher(NewDirectoryResolver(f.dir), []Channel{NewMailChannel(mail), NewInAppChannel(inbox)}, nil, &recordingQueue{}, zap.NewNop(), nil)

	to := Recipient{UserID: f.patient.ID, Email: f.patient.Email, Name: "Pat Test", Role: domain.RolePatient}
	ev := f.event(notification.KindAppointmentStatusChanged)
	err := d.Notify(context.Background(), to, ev.Kind, ev.Appointment, map[string]string{
		KeyOldStatus: "pending",
		KeyNewStatus: "confirmed",
	})

	assert.ErrorContains(t, err, "relay down")
	require.Equal(t, 1, inbox.count())
	n := inbox.rows[0]
	assert.Equal(t, "Your appointment is now confirmed", n.Title)
	assert.Contains(t, n.Body, "changed from pending to confirmed")
	assert.Equal(t, ev.Appointment.ID, *n.AppointmentID)
}

func TestDispatcher_EndToEnd(t *testing.T) {
	f := newDirectoryFixture()
	mail := &stubMailer{}
	inbox := &memNotificationRepo{}

	mux := queue.NewMux()
	q := queue.NewMemoryQueue(mux, queue.MemoryOptions{Workers: 2}, zap.NewNop(), nil)
	d := NewDispatcher(NewDirectoryResolver(f.dir), []Channel{NewMailChannel(mail), NewInAppChannel(inbox)}, nil, q, zap.NewNop(), nil)
	d.Register(mux)
	q.Start(context.Background())

	ev := f.event(notification.KindAppointmentReminder)
	ev.Context = map[string]string{KeyWhenLabel: "tomorrow"}
	require.NoError(t, d.Dispatch(context.Background(), ev))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	assert.Equal(t, 3, inbox.count())
	msgs := mail.messages()
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, "Reminder: appointment tomorrow", m.Subject)
		assert.Contains(t, m.Body, "appointment for Pat Test is tomorrow, on 2024-01-02 at 09:00:00")
	}
}

func TestTemplateEngine_LeavesUnknownPlaceholders(t *testing.T) {
	e := NewTemplateEngine()

	subject, body, err := e.Render(notification.KindAppointmentCreated, map[string]string{"date": "2024-01-02"})
	require.NoError(t, err)
	assert.Equal(t, "New appointment request for 2024-01-02 at {{time}}", subject)
	assert.Contains(t, body, "{{patient_name}}")

	_, _, err = e.Render("unknown", nil)
	assert.Error(t, err)
}

func TestTemplateEngine_ValuesAreNotExpanded(t *testing.T) {
	e := NewTemplateEngine()
	vars := map[string]string{
		"recipient_name": "{{time}}",
		"patient_name":   "{{date}}",
		"date":           "2024-01-02",
		"time":           "09:00:00",
		KeyWhenLabel:     "tomorrow",
	}

	_, first, err := e.Render(notification.KindAppointmentReminder, vars)
	require.NoError(t, err)
	assert.Contains(t, first, "Hello {{time}},")
	assert.Contains(t, first, "appointment for {{date}} is tomorrow, on 2024-01-02 at 09:00:00")

	for i := 0; i < 100; i++ {
		_, body, err := e.Render(notification.KindAppointmentReminder, vars)
		require.NoError(t, err)
		require.Equal(t, first, body)
	}
}

func TestInboxService(t *testing.T) {
	repo := &memNotificationRepo{}
	svc := NewInboxService(repo)
	userID := uuid.New()
	actor := domain.NewActor(userID, domain.RolePatient)

	require.NoError(t, repo.Create(context.Background(), &notification.Notification{UserID: userID, Title: "a"}))
	require.NoError(t, repo.Create(context.Background(), &notification.Notification{UserID: uuid.New(), Title: "b"}))

	items, err := svc.List(context.Background(), actor, true, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, svc.MarkRead(context.Background(), actor, items[0].ID))
	items, err = svc.List(context.Background(), actor, true, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	other := domain.NewActor(uuid.New(), domain.RolePatient)
	assert.ErrorIs(t, svc.MarkRead(context.Background(), other, repo.rows[0].ID), notification.ErrNotificationNotFound)

	_, err = svc.List(context.Background(), domain.SystemActor, false, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
