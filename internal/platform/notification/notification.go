// Package notification turns domain events into member messages. Messages are
// rendered from {{key}} templates, published to the member event stream and
// retried with backoff when publishing fails.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	// StatusDead marks a notification that exhausted its retries.
	StatusDead = "dead"
)

// Event types emitted by the domains.
const (
	EventAppointmentReminder     = "appointment.reminder"
	EventReimbursementStatus     = "reimbursement.status_changed"
	EventProcedureCompleted      = "treatment_procedure.completed"
	EventCareAdvocateTransition  = "care_advocate.transitioned"
	EventCareAdvocateAssigned    = "care_advocate.assigned"
	EventAccumulationFileFailure = "accumulation.file_failed"
)

// Event is something that happened to a member that they should hear about.
type Event struct {
	Type       string            `json:"type"`
	MemberID   uuid.UUID         `json:"member_id"`
	TemplateID string            `json:"template_id"`
	Data       map[string]string `json:"data,omitempty"`
}

// Notification is a rendered event and its delivery state.
type Notification struct {
	ID            uuid.UUID         `json:"id"`
	MemberID      uuid.UUID         `json:"member_id"`
	EventType     string            `json:"event_type"`
	TemplateID    string            `json:"template_id"`
	Subject       string            `json:"subject"`
	Body          string            `json:"body"`
	Data          map[string]string `json:"data,omitempty"`
	Status        string            `json:"status"`
	Attempts      int               `json:"attempts"`
	Error         string            `json:"error,omitempty"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Template defines a reusable message.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "appointment-reminder",
			Name:    "Appointment Reminder",
			Subject: "Your appointment with {{practitioner}} is coming up",
			Body:    "Your {{minutes}} minute appointment starts at {{scheduled_start}}.",
		},
		{
			ID:      "reimbursement-status",
			Name:    "Reimbursement Status",
			Subject: "Your reimbursement request was updated",
			Body:    "Your request for {{amount}} is now {{state}}. {{reason}}",
		},
		{
			ID:      "procedure-completed",
			Name:    "Treatment Procedure Completed",
			Subject: "{{procedure_name}} was completed",
			Body:    "{{procedure_name}} was completed on {{completed_at}}. Your wallet covered {{employer_responsibility}}.",
		},
		{
			ID:      "care-advocate-transition",
			Name:    "Care Advocate Transition",
			Subject: "Meet your new care advocate",
			Body:    "Your care advocate is changing. {{messaging_template}}",
		},
		{
			ID:      "care-advocate-assigned",
			Name:    "Care Advocate Assigned",
			Subject: "Your care advocate is ready",
			Body:    "You have been matched with a care advocate.",
		},
		{
			ID:      "accumulation-file-failure",
			Name:    "Accumulation File Failure",
			Subject: "Accumulation file for {{payer}} failed",
			Body:    "Report {{report_id}} could not be delivered: {{error}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, strings.TrimSpace(body), nil
}

// Publisher delivers a serialized message keyed by member.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Update(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
}
