package careadvocate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AdvocateRepository interface {
	Create(ctx context.Context, a *Advocate) error
	GetByID(ctx context.Context, id uuid.UUID) (*Advocate, error)
	Update(ctx context.Context, a *Advocate) error
	List(ctx context.Context, limit, offset int) ([]*Advocate, int, error)
	// ListForMatching returns every advocate with its rule sets loaded.
	ListForMatching(ctx context.Context) ([]*Advocate, error)
	CreateRuleSet(ctx context.Context, rs *RuleSet) error
	DeleteRuleSet(ctx context.Context, advocateID, id uuid.UUID) error
}

type AssignmentRepository interface {
	Get(ctx context.Context, memberID uuid.UUID) (*Assignment, error)
	Upsert(ctx context.Context, a *Assignment) error
	// Loads counts each advocate's members, and those matched to them since
	// dayStart.
	Loads(ctx context.Context, dayStart time.Time) (map[uuid.UUID]Load, error)
}

type TransitionLogRepository interface {
	Create(ctx context.Context, l *TransitionLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*TransitionLog, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*TransitionLog, int, error)
	// ListDue returns incomplete logs scheduled at or before at, oldest first.
	ListDue(ctx context.Context, at time.Time) ([]*TransitionLog, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
}
