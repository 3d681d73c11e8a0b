package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotRetryable is returned by Retry for notifications that did not fail.
var ErrNotRetryable = errors.New("notification is not in a retryable state")

// DefaultBackoff is the wait before each retry of a failed publish.
var DefaultBackoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// Notifier renders events, records them and publishes them.
type Notifier struct {
	templates *TemplateEngine
	store     Store
	publisher Publisher
	backoff   []time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewNotifier(templates *TemplateEngine, store Store, publisher Publisher, logger zerolog.Logger) *Notifier {
	return &Notifier{
		templates: templates,
		store:     store,
		publisher: publisher,
		backoff:   DefaultBackoff,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetBackoff replaces the retry schedule. Its length is the retry budget.
func (n *Notifier) SetBackoff(backoff []time.Duration) {
	n.backoff = backoff
}

type message struct {
	ID        uuid.UUID         `json:"id"`
	MemberID  uuid.UUID         `json:"member_id"`
	EventType string            `json:"event_type"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notify records and publishes ev. A publish failure is not returned: the
// notification is stored as failed and picked up by RetryFailed.
func (n *Notifier) Notify(ctx context.Context, ev Event) (*Notification, error) {
	if ev.MemberID == uuid.Nil {
		return nil, fmt.Errorf("notify %s: member_id is required", ev.Type)
	}
	subject, body, err := n.templates.Render(ev.TemplateID, ev.Data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	notif := &Notification{
		MemberID:   ev.MemberID,
		EventType:  ev.Type,
		TemplateID: ev.TemplateID,
		Subject:    subject,
		Body:       body,
		Data:       ev.Data,
		Status:     StatusPending,
	}
	if err := n.store.Create(ctx, notif); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}
	n.attempt(ctx, notif)
	if err := n.store.Update(ctx, notif); err != nil {
		return notif, fmt.Errorf("update notification: %w", err)
	}
	return notif, nil
}

// attempt publishes once and records the outcome on notif.
func (n *Notifier) attempt(ctx context.Context, notif *Notification) {
	payload, err := json.Marshal(message{
		ID:        notif.ID,
		MemberID:  notif.MemberID,
		EventType: notif.EventType,
		Subject:   notif.Subject,
		Body:      notif.Body,
		Data:      notif.Data,
		CreatedAt: notif.CreatedAt,
	})
	if err == nil {
		err = n.publisher.Publish(ctx, notif.MemberID.String(), payload)
	}
	notif.Attempts++
	now := n.now()

	if err == nil {
		notif.Status = StatusSent
		notif.SentAt = &now
		notif.NextAttemptAt = nil
		notif.Error = ""
		return
	}

	notif.Error = err.Error()
	retry := notif.Attempts - 1
	if retry >= len(n.backoff) {
		notif.Status = StatusDead
		notif.NextAttemptAt = nil
	} else {
		notif.Status = StatusFailed
		next := now.Add(n.backoff[retry])
		notif.NextAttemptAt = &next
	}
	n.logger.Warn().Err(err).
		Str("notification_id", notif.ID.String()).
		Str("member_id", notif.MemberID.String()).
		Int("attempts", notif.Attempts).
		Str("status", notif.Status).
		Msg("publish notification failed")
}

// Retry republishes a failed or dead notification immediately.
func (n *Notifier) Retry(ctx context.Context, id uuid.UUID) (*Notification, error) {
	notif, err := n.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if notif.Status != StatusFailed && notif.Status != StatusDead {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, notif.Status)
	}
	if notif.Status == StatusDead {
		notif.Attempts = 0
	}
	n.attempt(ctx, notif)
	if err := n.store.Update(ctx, notif); err != nil {
		return nil, err
	}
	return notif, nil
}

// RetryFailed republishes failed notifications whose backoff has elapsed.
// It returns how many were sent.
func (n *Notifier) RetryFailed(ctx context.Context) (int, error) {
	due, err := n.store.ListDue(ctx, n.now(), 100)
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}
	sent := 0
	for _, notif := range due {
		n.attempt(ctx, notif)
		if err := n.store.Update(ctx, notif); err != nil {
			return sent, fmt.Errorf("update notification %s: %w", notif.ID, err)
		}
		if notif.Status == StatusSent {
			sent++
		}
	}
	return sent, nil
}

func (n *Notifier) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return n.store.GetByID(ctx, id)
}

func (n *Notifier) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	return n.store.ListByMember(ctx, memberID, limit, offset)
}
