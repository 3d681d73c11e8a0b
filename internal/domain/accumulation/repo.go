package accumulation

import (
	"context"

	"github.com/google/uuid"
)

type MappingRepository interface {
	Create(ctx context.Context, m *Mapping) error
	GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error)
	Update(ctx context.Context, m *Mapping) error
	// ListReady returns mappings for payer in one of statuses, oldest first.
	ListReady(ctx context.Context, payer string, statuses []string) ([]*Mapping, error)
	List(ctx context.Context, f MappingFilter, limit, offset int) ([]*Mapping, int, error)
}

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	List(ctx context.Context, payer string, limit, offset int) ([]*Report, int, error)
}
