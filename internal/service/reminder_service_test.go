package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func appointmentAt(status appointment.Status, at time.Time) *appointment.Appointment {
	return &appointment.Appointment{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		PreferredDate: time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location()),
		PreferredTime: at.Format(appointment.TimeLayout),
		ScheduledAt:   at,
		Status:        status,
	}
}

func newReminderService(repo appointment.Repository, d EventDispatcher) *ReminderService {
	return NewReminderService(repo, d, DefaultReminderTolerance, zap.NewNop(), nil).
		WithClock(func() time.Time { return clinicNow })
}

func TestWindow_Bounds(t *testing.T) {
	from, to := Window24h.Bounds(clinicNow)

	assert.Equal(t, time.Date(2024, 1, 2, 8, 55, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 5, 0, 0, time.UTC), to)

	assert.True(t, Window24h.Contains(clinicNow, from))
	assert.True(t, Window24h.Contains(clinicNow, to))
	assert.False(t, Window24h.Contains(clinicNow, to.Add(time.Second)))
}

func TestParseWindow(t *testing.T) {
	for name, want := range map[string]Window{"24h": Window24h, "1h": Window1h, "30m": Window30m} {
		got, err := ParseWindow(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseWindow("2h")
	assert.ErrorIs(t, err, ErrUnknownWindow)
}

func TestReminderService_Send_SelectsConfirmedInsideWindow(t *testing.T) {
	inside := appointmentAt(appointment.StatusConfirmed, time.Date(2024, 1, 2, 9, 3, 0, 0, time.UTC))
	edge := appointmentAt(appointment.StatusConfirmed, time.Date(2024, 1, 2, 8, 55, 0, 0, time.UTC))
	outside := appointmentAt(appointment.StatusConfirmed, time.Date(2024, 1, 2, 9, 10, 0, 0, time.UTC))
	pending := appointmentAt(appointment.StatusPending, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	deleted := appointmentAt(appointment.StatusConfirmed, time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC))
	deleted.DeletedAt = &clinicNow

	repo := newMemAppointmentRepo(inside, edge, outside, pending, deleted)
	d := &recordingDispatcher{}

	res, err := newReminderService(repo, d).Send(context.Background(), Window24h)
	require.NoError(t, err)

	assert.Equal(t, ReminderResult{Window: "24h", Matched: 2, Sent: 2}, res)

	var ids []uuid.UUID
	for _, ev := range d.all() {
		assert.Equal(t, notification.KindAppointmentReminder, ev.Kind)
		assert.Equal(t, "tomorrow", ev.Context[KeyWhenLabel])
		ids = append(ids, ev.Appointment.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{inside.ID, edge.ID}, ids)
}

func TestReminderService_Send_30MinuteWindow(t *testing.T) {
	soon := appointmentAt(appointment.StatusConfirmed, clinicNow.Add(32*time.Minute))
	tomorrow := appointmentAt(appointment.StatusConfirmed, clinicNow.Add(24*time.Hour))

	d := &recordingDispatcher{}
	res, err := newReminderService(newMemAppointmentRepo(soon, tomorrow), d).Send(context.Background(), Window30m)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	require.Len(t, d.all(), 1)
	assert.Equal(t, soon.ID, d.all()[0].Appointment.ID)
	assert.Equal(t, "in 30 minutes", d.all()[0].Context[KeyWhenLabel])
}

func TestReminderService_Send_IsolatesFailures(t *testing.T) {
	a := appointmentAt(appointment.StatusConfirmed, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	b := appointmentAt(appointment.StatusConfirmed, time.Date(2024, 1, 2, 9, 2, 0, 0, time.UTC))

	d := &recordingDispatcher{failFor: map[uuid.UUID]error{b.ID: errors.New("queue unavailable")}}

	res, err := newReminderService(newMemAppointmentRepo(a, b), d).Send(context.Background(), Window24h)
	require.NoError(t, err)

	assert.Equal(t, ReminderResult{Window: "24h", Matched: 2, Sent: 1, Failed: 1}, res)
	require.Len(t, d.all(), 1)
	assert.Equal(t, a.ID, d.all()[0].Appointment.ID)
}

func TestReminderService_Send_StoreFailure(t *testing.T) {
	repo := newMemAppointmentRepo()
	repo.listErr = errors.New("connection refused")

	_, err := newReminderService(repo, &recordingDispatcher{}).Send(context.Background(), Window1h)
	assert.ErrorContains(t, err, "connection refused")
}

func TestReminderService_SendDefault(t *testing.T) {
	tomorrow := appointmentAt(appointment.StatusConfirmed, clinicNow.Add(24*time.Hour))
	soon := appointmentAt(appointment.StatusConfirmed, clinicNow.Add(30*time.Minute))
	inAnHour := appointmentAt(appointment.StatusConfirmed, clinicNow.Add(time.Hour))

	d := &recordingDispatcher{}
	results, err := newReminderService(newMemAppointmentRepo(tomorrow, soon, inAnHour), d).SendDefault(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "24h", results[0].Window)
	assert.Equal(t, 1, results[0].Sent)
	assert.Equal(t, "30m", results[1].Window)
	assert.Equal(t, 1, results[1].Sent)
	assert.Len(t, d.all(), 2)
}
