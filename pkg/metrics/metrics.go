package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	AppointmentsBooked     prometheus.Counter
	AppointmentTransitions *prometheus.CounterVec

	ActivityEntriesTotal *prometheus.CounterVec

	QueueJobsTotal   *prometheus.CounterVec
	QueueJobsDropped *prometheus.CounterVec

	NotificationsTotal *prometheus.CounterVec

	ReminderRunsTotal *prometheus.CounterVec
	RemindersTotal    *prometheus.CounterVec

	RateLimitedTotal prometheus.Counter
}

// NewCollector registers every metric with the default registry.
func NewCollector(serviceName string) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, serviceName)
}

func NewCollectorWith(reg prometheus.Registerer, serviceName string) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		AppointmentsBooked: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "appointments_booked_total",
			Help:      "Total appointments booked.",
		}),

		AppointmentTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "appointment_transitions_total",
			Help:      "Appointment status changes by source and target status.",
		}, []string{"from", "to"}),

		ActivityEntriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "activity",
			Name:      "entries_total",
			Help:      "Activity log entries written, by action.",
		}, []string{"action"}),

		QueueJobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Jobs handled by type and outcome (success, retry, failed).",
		}, []string{"type", "outcome"}),

		QueueJobsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "queue",
			Name:      "jobs_dropped_total",
			Help:      "Jobs rejected at enqueue time. Alert if non-zero.",
		}, []string{"type"}),

		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),

		ReminderRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "reminder",
			Name:      "runs_total",
			Help:      "Reminder scans by window.",
		}, []string{"window"}),

		RemindersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "reminder",
			Name:      "appointments_total",
			Help:      "Appointments processed by reminder scans, by window and outcome.",
		}, []string{"window", "outcome"}),

		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
}

func (c *Collector) JobProcessed(jobType, outcome string) {
	c.QueueJobsTotal.WithLabelValues(jobType, outcome).Inc()
}

func (c *Collector) JobDropped(jobType string) {
	c.QueueJobsDropped.WithLabelValues(jobType).Inc()
}

func (c *Collector) AppointmentBooked() {
	c.AppointmentsBooked.Inc()
}

func (c *Collector) AppointmentTransition(from, to string) {
	c.AppointmentTransitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) ActivityRecorded(action string) {
	c.ActivityEntriesTotal.WithLabelValues(action).Inc()
}

func (c *Collector) NotificationDelivered(channel string, ok bool) {
	c.NotificationsTotal.WithLabelValues(channel, outcome(ok)).Inc()
}

func (c *Collector) ReminderRun(window string, sent, failed int) {
	c.ReminderRunsTotal.WithLabelValues(window).Inc()
	c.RemindersTotal.WithLabelValues(window, "sent").Add(float64(sent))
	c.RemindersTotal.WithLabelValues(window, "failed").Add(float64(failed))
}

func (c *Collector) ObserveRequest(method, path string, status int, seconds float64) {
	s := strconv.Itoa(status)
	c.RequestsTotal.WithLabelValues(method, path, s).Inc()
	c.RequestDuration.WithLabelValues(method, path, s).Observe(seconds)
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
