package appointments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/internal/platform/notification"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("practitioner is already booked for that time")
	ErrInvalidState    = errors.New("appointment cannot do that in its current state")
	ErrProductInactive = errors.New("product is not bookable")
)

const (
	// ReminderWindow is how far ahead members are reminded of appointments.
	ReminderWindow      = 24 * time.Hour
	reminderTemplateID  = "appointment-reminder"
	defaultCancelPolicy = PolicyModerate
)

// Notifier delivers member events.
type Notifier interface {
	Notify(ctx context.Context, ev notification.Event) (*notification.Notification, error)
}

type Service struct {
	products     ProductRepository
	appointments AppointmentRepository
	notifier     Notifier
	tx           db.Transactor
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(p ProductRepository, a AppointmentRepository, n Notifier, logger zerolog.Logger) *Service {
	return &Service{
		products:     p,
		appointments: a,
		notifier:     n,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetTransactor(tx db.Transactor) { s.tx = tx }

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

// Now is the clock the service derives appointment state with.
func (s *Service) Now() time.Time { return s.now() }

// -- Products --

func (s *Service) CreateProduct(ctx context.Context, p *Product) error {
	if p.PractitionerID == uuid.Nil {
		return fmt.Errorf("%w: practitioner_id is required", ErrValidation)
	}
	if p.Minutes <= 0 {
		return fmt.Errorf("%w: minutes must be positive", ErrValidation)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: price cannot be negative", ErrValidation)
	}
	if strings.TrimSpace(p.Vertical) == "" {
		return fmt.Errorf("%w: vertical is required", ErrValidation)
	}
	p.IsActive = true
	return s.products.Create(ctx, p)
}

func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	return s.products.GetByID(ctx, id)
}

func (s *Service) DeactivateProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.IsActive = false
	if err := s.products.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]*Product, int, error) {
	return s.products.List(ctx, practitionerID, limit, offset)
}

// -- Appointments --

// Book schedules memberID on productID at start. The end is derived from the
// product length.
func (s *Service) Book(ctx context.Context, memberID, productID uuid.UUID, start time.Time, policy string) (*Appointment, error) {
	if memberID == uuid.Nil {
		return nil, fmt.Errorf("%w: member_id is required", ErrValidation)
	}
	if policy == "" {
		policy = defaultCancelPolicy
	}
	if !validPolicies[policy] {
		return nil, fmt.Errorf("%w: unknown cancellation policy %q", ErrValidation, policy)
	}
	if !start.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduled_start must be in the future", ErrValidation)
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrProductInactive
	}
	a := &Appointment{
		MemberID:           memberID,
		ProductID:          p.ID,
		PractitionerID:     p.PractitionerID,
		ScheduledStart:     start.UTC(),
		ScheduledEnd:       start.UTC().Add(time.Duration(p.Minutes) * time.Minute),
		CancellationPolicy: policy,
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		clashes, err := s.appointments.Overlapping(ctx, a.PractitionerID, a.ScheduledStart, a.ScheduledEnd)
		if err != nil {
			return err
		}
		if len(clashes) > 0 {
			return ErrConflict
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("practitioner_id", a.PractitionerID.String()).
		Time("scheduled_start", a.ScheduledStart).Msg("appointment booked")
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByMember(ctx, memberID, limit, offset)
}

// Cancel cancels the appointment on behalf of by and records the refund the
// cancellation policy grants.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, by string) (*Appointment, error) {
	if by != ByMember && by != ByPractitioner {
		return nil, fmt.Errorf("%w: cancelled_by must be member or practitioner", ErrValidation)
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !a.Cancellable(now) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, a.State(now))
	}
	p, err := s.products.GetByID(ctx, a.ProductID)
	if err != nil {
		return nil, err
	}
	a.RefundAmount = a.Refund(p.Price, by, now)
	a.CancelledAt = &now
	a.CancelledBy = by
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("cancelled_by", by).
		Int64("refund_amount", a.RefundAmount).Msg("appointment cancelled")
	return a, nil
}

// Connect records that by joined the appointment.
func (s *Service) Connect(ctx context.Context, id uuid.UUID, by string) (*Appointment, error) {
	return s.stamp(ctx, id, by, func(a *Appointment) (**time.Time, error) {
		if by == ByPractitioner {
			return &a.PractitionerStartedAt, nil
		}
		return &a.MemberStartedAt, nil
	})
}

// Complete records that by left the appointment. by must have connected.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, by string) (*Appointment, error) {
	return s.stamp(ctx, id, by, func(a *Appointment) (**time.Time, error) {
		started, ended := &a.MemberStartedAt, &a.MemberEndedAt
		if by == ByPractitioner {
			started, ended = &a.PractitionerStartedAt, &a.PractitionerEndedAt
		}
		if *started == nil {
			return nil, fmt.Errorf("%w: %s never connected", ErrInvalidState, by)
		}
		return ended, nil
	})
}

func (s *Service) stamp(ctx context.Context, id uuid.UUID, by string, field func(*Appointment) (**time.Time, error)) (*Appointment, error) {
	if by != ByMember && by != ByPractitioner {
		return nil, fmt.Errorf("%w: unknown participant %q", ErrValidation, by)
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	switch a.State(now) {
	case StateCancelled, StateDisputed, StateCompleted:
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, a.State(now))
	}
	ts, err := field(a)
	if err != nil {
		return nil, err
	}
	if *ts != nil {
		return a, nil
	}
	*ts = &now
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Dispute flags a finished or missed appointment for review.
func (s *Service) Dispute(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	switch a.State(now) {
	case StateCompleted, StateIncomplete, StateNoShow:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, a.State(now))
	}
	a.DisputedAt = &now
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SendReminders notifies members of appointments starting within the
// reminder window. Each appointment is reminded at most once.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.appointments.DueForReminder(ctx, now, now.Add(ReminderWindow))
	if err != nil {
		return 0, err
	}
	var sent int
	var errs []error
	for _, a := range due {
		if err := s.remind(ctx, a, now); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("appointment reminder")
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (s *Service) remind(ctx context.Context, a *Appointment, now time.Time) error {
	if s.notifier != nil {
		_, err := s.notifier.Notify(ctx, notification.Event{
			Type:       notification.EventAppointmentReminder,
			MemberID:   a.MemberID,
			TemplateID: reminderTemplateID,
			Data: map[string]string{
				"appointment_id":  a.ID.String(),
				"practitioner":    a.PractitionerID.String(),
				"minutes":         strconv.Itoa(int(a.ScheduledEnd.Sub(a.ScheduledStart).Minutes())),
				"scheduled_start": a.ScheduledStart.Format(time.RFC3339),
			},
		})
		if err != nil {
			return err
		}
	}
	return s.appointments.MarkReminderSent(ctx, a.ID, now)
}

// RefundInfo describes what cancelling the appointment returns. For a
// cancelled appointment it is the refund that was granted.
type RefundInfo struct {
	Policy      string `json:"policy"`
	Cancellable bool   `json:"cancellable"`
	Percent     int    `json:"percent"`
	Amount      int64  `json:"amount"`
}

// AppointmentView is an appointment with its derived state.
type AppointmentView struct {
	*Appointment
	State  string     `json:"state"`
	Refund RefundInfo `json:"refund"`
}

// View derives the appointment's state and the member's refund at the
// current time.
func (s *Service) View(ctx context.Context, a *Appointment) (*AppointmentView, error) {
	p, err := s.products.GetByID(ctx, a.ProductID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	v := &AppointmentView{
		Appointment: a,
		State:       a.State(now),
		Refund:      RefundInfo{Policy: a.CancellationPolicy, Cancellable: a.Cancellable(now)},
	}
	switch {
	case a.CancelledAt != nil:
		v.Refund.Percent = RefundPercent(a.CancellationPolicy, a.CancelledBy, a.ScheduledStart.Sub(*a.CancelledAt))
		v.Refund.Amount = a.RefundAmount
	case v.Refund.Cancellable:
		v.Refund.Percent = RefundPercent(a.CancellationPolicy, ByMember, a.ScheduledStart.Sub(now))
		v.Refund.Amount = a.Refund(p.Price, ByMember, now)
	}
	return v, nil
}
