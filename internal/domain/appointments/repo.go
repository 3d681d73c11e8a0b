package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ProductRepository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	Update(ctx context.Context, p *Product) error
	// List returns products, optionally for one practitioner (uuid.Nil for all).
	List(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]*Product, int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	// Overlapping returns the practitioner's non-cancelled appointments
	// intersecting [start, end).
	Overlapping(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) ([]*Appointment, error)
	// DueForReminder returns non-cancelled appointments starting in [from, to)
	// that have not been reminded.
	DueForReminder(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error
}
