package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/queue"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/mailer"
	"github.com/google/uuid"
)

type memAppointmentRepo struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*appointment.Appointment
	saves   int
	listErr error
}

func newMemAppointmentRepo(items ...*appointment.Appointment) *memAppointmentRepo {
	r := &memAppointmentRepo{items: make(map[uuid.UUID]*appointment.Appointment)}
	for _, a := range items {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		cp := *a
		r.items[a.ID] = &cp
	}
	return r
}

func (r *memAppointmentRepo) Create(_ context.Context, a *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *memAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok || a.IsTrashed() {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAppointmentRepo) GetTrashedByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok || !a.IsTrashed() {
		return nil, appointment.ErrNotTrashed
	}
	cp := *a
	return &cp, nil
}

func (r *memAppointmentRepo) Save(_ context.Context, a *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *memAppointmentRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok || a.IsTrashed() {
		return appointment.ErrAppointmentNotFound
	}
	a.DeletedAt = &at
	return nil
}

func (r *memAppointmentRepo) Restore(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok || !a.IsTrashed() {
		return appointment.ErrNotTrashed
	}
	a.DeletedAt = nil
	return nil
}

func (r *memAppointmentRepo) List(_ context.Context, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*appointment.Appointment
	for _, a := range r.items {
		if a.IsTrashed() != q.Trashed {
			continue
		}
		if q.UserID != nil && a.UserID != *q.UserID {
			continue
		}
		if q.Status != nil && a.Status != *q.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return &appointment.PagedAppointments{
		Appointments: out,
		TotalCount:   int64(len(out)),
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   1,
	}, nil
}

func (r *memAppointmentRepo) ListConfirmedBetween(_ context.Context, from, to time.Time) ([]*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*appointment.Appointment
	for _, a := range r.items {
		if a.Status != appointment.StatusConfirmed || a.IsTrashed() {
			continue
		}
		if a.ScheduledAt.Before(from) || a.ScheduledAt.After(to) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *memAppointmentRepo) get(id uuid.UUID) *appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.items[id]
	return &cp
}

// recordingActivity stands in for ActivityService on the synchronous path.
type recordingActivity struct {
	mu      sync.Mutex
	entries []ActivityEntry
}

func (r *recordingActivity) Record(_ context.Context, e ActivityEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingActivity) History(_ context.Context, id uuid.UUID) ([]*appointment.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*appointment.Activity
	for _, e := range r.entries {
		if e.AppointmentID == id {
			out = append(out, &appointment.Activity{
				AppointmentID: e.AppointmentID,
				UserID:        e.UserID,
				Action:        e.Action,
				FromStatus:    e.FromStatus,
				ToStatus:      e.ToStatus,
				Meta:          e.Meta,
			})
		}
	}
	return out, nil
}

func (r *recordingActivity) all() []ActivityEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActivityEntry(nil), r.entries...)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	events  []Event
	failFor map[uuid.UUID]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failFor[ev.Appointment.ID]; err != nil {
		return err
	}
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) all() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

type erroringAuthorizer struct{}

func (erroringAuthorizer) Can(context.Context, domain.Actor, Action, *appointment.Appointment) (bool, error) {
	return true, errors.New("policy store unreachable")
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) all() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Job(nil), q.jobs...)
}

type memActivityRepo struct {
	mu       sync.Mutex
	rows     []*appointment.Activity
	failures int
}

func (r *memActivityRepo) Create(_ context.Context, a *appointment.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	cp := *a
	// gorm only fills an autoCreateTime column when it is zero
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *memActivityRepo) ListByAppointment(_ context.Context, id uuid.UUID) ([]*appointment.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*appointment.Activity
	for _, a := range r.rows {
		if a.AppointmentID == id {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memActivityRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type memNotificationRepo struct {
	mu   sync.Mutex
	rows []*notification.Notification
}

func (r *memNotificationRepo) Create(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = uuid.New()
	cp := *n
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *memNotificationRepo) ListByUser(_ context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notification.Notification
	for _, n := range r.rows {
		if n.UserID != userID || (unreadOnly && n.IsRead()) {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memNotificationRepo) MarkRead(_ context.Context, id, userID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.rows {
		if n.ID == id && n.UserID == userID {
			n.ReadAt = &at
			return nil
		}
	}
	return notification.ErrNotificationNotFound
}

func (r *memNotificationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type memDirectory struct {
	users []*domain.User
	err   error
	// getErr fails GetUser only.
	getErr error
}

func (d *memDirectory) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.getErr != nil {
		return nil, d.getErr
	}
	for _, u := range d.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, errors.New("user not found")
}

func (d *memDirectory) ListByRole(_ context.Context, role domain.Role) ([]*domain.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []*domain.User
	for _, u := range d.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

type stubMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *stubMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *stubMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

func newUser(role domain.Role, first, email string) *domain.User {
	return &domain.User{ID: uuid.New(), FirstName: first, LastName: "Test", Email: email, Role: role, IsActive: true}
}
