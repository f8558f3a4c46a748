package service

// Metrics is the part of pkg/metrics.Collector the services report to.
type Metrics interface {
	AppointmentBooked()
	AppointmentTransition(from, to string)
	ActivityRecorded(action string)
	NotificationDelivered(channel string, ok bool)
	ReminderRun(window string, sent, failed int)
}

type NopMetrics struct{}

func (NopMetrics) AppointmentBooked()                   {}
func (NopMetrics) AppointmentTransition(string, string) {}
func (NopMetrics) ActivityRecorded(string)              {}
func (NopMetrics) NotificationDelivered(string, bool)   {}
func (NopMetrics) ReminderRun(string, int, int)         {}

func orNop(m Metrics) Metrics {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
