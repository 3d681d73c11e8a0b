package costbreakdown

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, cb *CostBreakdown) error
	GetByID(ctx context.Context, id uuid.UUID) (*CostBreakdown, error)
	ListByProcedure(ctx context.Context, procedureID uuid.UUID, limit, offset int) ([]*CostBreakdown, int, error)
}
