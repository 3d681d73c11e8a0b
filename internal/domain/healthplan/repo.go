package healthplan

import (
	"context"

	"github.com/google/uuid"
)

type EmployerPlanRepository interface {
	Create(ctx context.Context, p *EmployerHealthPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*EmployerHealthPlan, error)
	Update(ctx context.Context, p *EmployerHealthPlan) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*EmployerHealthPlan, int, error)
}

type MemberPlanRepository interface {
	Create(ctx context.Context, p *MemberHealthPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*MemberHealthPlan, error)
	Update(ctx context.Context, p *MemberHealthPlan) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*MemberHealthPlan, error)
}

type YTDSpendRepository interface {
	ListByPolicy(ctx context.Context, policyID string, year int) ([]*YTDSpend, error)
	// Upsert replaces the amounts of the (policy, member, year, source, type) row.
	Upsert(ctx context.Context, s *YTDSpend) error
	// Increment adds to the amounts of the row, creating it when missing.
	Increment(ctx context.Context, s *YTDSpend) error
}
