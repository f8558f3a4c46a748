package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
)

type Template struct {
	Subject string
	Body    string
}

// TemplateEngine renders notification templates by replacing {{key}}
// placeholders. Unknown placeholders are left in place.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[notification.Kind]Template
}

func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: map[notification.Kind]Template{
			notification.KindAppointmentCreated: {
				Subject: "New appointment request for {{date}} at {{time}}",
				Body: "Hello {{recipient_name}},\n\n" +
					"An appointment for {{patient_name}} has been requested for {{date}} at {{time}}. " +
					"It is currently {{status}} and will be reviewed by the clinic.",
			},
			notification.KindAppointmentStatusChanged: {
				Subject: "Your appointment is now {{newStatus}}",
				Body: "Hello {{recipient_name}},\n\n" +
					"The status of your appointment on {{date}} at {{time}} changed from {{oldStatus}} to {{newStatus}}.",
			},
			notification.KindAppointmentRescheduled: {
				Subject: "Appointment moved to {{date}} at {{time}}",
				Body: "Hello {{recipient_name}},\n\n" +
					"The appointment for {{patient_name}} on {{oldDate}} at {{oldTime}} has been moved to {{date}} at {{time}}. " +
					"It is pending confirmation again.",
			},
			notification.KindAppointmentReminder: {
				Subject: "Reminder: appointment {{whenLabel}}",
				Body: "Hello {{recipient_name}},\n\n" +
					"This is a reminder that the appointment for {{patient_name}} is {{whenLabel}}, on {{date}} at {{time}}.",
			},
		},
	}
}

// Register adds or replaces the template for kind.
func (e *TemplateEngine) Register(kind notification.Kind, t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[kind] = t
}

func (e *TemplateEngine) Render(kind notification.Kind, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("no template for %q", kind)
	}

	// One pass: substituted values are never scanned for placeholders.
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", data[k])
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}
