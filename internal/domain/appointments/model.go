package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Appointment states. They are derived from timestamps, never stored.
const (
	StateScheduled  = "scheduled"
	StateOverdue    = "overdue"
	StateOccurring  = "occurring"
	StateIncomplete = "incomplete"
	StateCompleted  = "completed"
	StateNoShow     = "no_show"
	StateCancelled  = "cancelled"
	StateDisputed   = "disputed"
)

// Cancellation policies.
const (
	PolicyFlexible     = "flexible"
	PolicyModerate     = "moderate"
	PolicyStrict       = "strict"
	PolicyConservative = "conservative"
)

const (
	ByMember       = "member"
	ByPractitioner = "practitioner"
)

// Product is a bookable appointment type a practitioner offers. Price is cents.
type Product struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Minutes        int       `json:"minutes"`
	Price          int64     `json:"price"`
	Vertical       string    `json:"vertical"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

type Appointment struct {
	ID                    uuid.UUID  `json:"id"`
	MemberID              uuid.UUID  `json:"member_id"`
	ProductID             uuid.UUID  `json:"product_id"`
	PractitionerID        uuid.UUID  `json:"practitioner_id"`
	ScheduledStart        time.Time  `json:"scheduled_start"`
	ScheduledEnd          time.Time  `json:"scheduled_end"`
	MemberStartedAt       *time.Time `json:"member_started_at,omitempty"`
	MemberEndedAt         *time.Time `json:"member_ended_at,omitempty"`
	PractitionerStartedAt *time.Time `json:"practitioner_started_at,omitempty"`
	PractitionerEndedAt   *time.Time `json:"practitioner_ended_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy           string     `json:"cancelled_by,omitempty"`
	DisputedAt            *time.Time `json:"disputed_at,omitempty"`
	CancellationPolicy    string     `json:"cancellation_policy"`
	RefundAmount          int64      `json:"refund_amount"`
	ReminderSentAt        *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// State derives the appointment's state at now.
func (a *Appointment) State(now time.Time) string {
	memberStarted, practitionerStarted := a.MemberStartedAt != nil, a.PractitionerStartedAt != nil
	switch {
	case a.CancelledAt != nil:
		return StateCancelled
	case a.DisputedAt != nil:
		return StateDisputed
	case a.MemberEndedAt != nil && a.PractitionerEndedAt != nil:
		return StateCompleted
	case a.MemberEndedAt != nil || a.PractitionerEndedAt != nil:
		return StateIncomplete
	case memberStarted && practitionerStarted:
		return StateOccurring
	case now.After(a.ScheduledEnd):
		if !memberStarted && !practitionerStarted {
			return StateNoShow
		}
		return StateIncomplete
	case !now.Before(a.ScheduledStart):
		return StateOverdue
	}
	return StateScheduled
}

// Cancellable reports whether the appointment may still be cancelled at now.
func (a *Appointment) Cancellable(now time.Time) bool {
	s := a.State(now)
	return s == StateScheduled || s == StateOverdue
}

var validPolicies = map[string]bool{
	PolicyFlexible: true, PolicyModerate: true, PolicyStrict: true, PolicyConservative: true,
}

// RefundPercent is the share of the price refunded when by cancels with
// notice left before the scheduled start.
func RefundPercent(policy, by string, notice time.Duration) int {
	if by == ByPractitioner {
		return 100
	}
	switch policy {
	case PolicyFlexible:
		if notice >= 24*time.Hour {
			return 100
		}
		return 50
	case PolicyModerate:
		if notice >= 24*time.Hour {
			return 100
		}
	case PolicyStrict:
		if notice >= 48*time.Hour {
			return 50
		}
	}
	return 0
}

// Refund is the amount, in cents, a cancellation by by at now returns.
func (a *Appointment) Refund(price int64, by string, now time.Time) int64 {
	return price * int64(RefundPercent(a.CancellationPolicy, by, a.ScheduledStart.Sub(now))) / 100
}
