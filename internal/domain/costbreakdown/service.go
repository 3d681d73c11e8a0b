package costbreakdown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/platform/db"
)

var (
	// ErrNoHealthPlan is returned by a PlanReader when the member has no
	// active plan on the date of service.
	ErrNoHealthPlan = errors.New("member has no active health plan")
	// ErrProcedureNotCalculable is returned for procedures that can no longer
	// be charged, such as cancelled ones.
	ErrProcedureNotCalculable = errors.New("procedure cannot be calculated")
)

// Procedure is the view of a treatment procedure the calculation needs.
type Procedure struct {
	ID            uuid.UUID
	MemberID      uuid.UUID
	WalletID      uuid.UUID
	CategoryID    uuid.UUID
	ProcedureType string
	Status        string
	Cost          int64
	CostCredit    int
	StartDate     time.Time
}

// ProcedureStore loads procedures and records the breakdown chosen for them.
type ProcedureStore interface {
	ProcedureForCostBreakdown(ctx context.Context, id uuid.UUID) (*Procedure, error)
	AttachCostBreakdown(ctx context.Context, procedureID, breakdownID uuid.UUID, employerResponsibility int64) error
}

// PlanContext is everything the calculator needs from a member health plan.
type PlanContext struct {
	MemberHealthPlanID uuid.UUID
	Limits             PlanLimits
	YTD                YearToDateSpend
	Sharing            CostSharing
}

type PlanReader interface {
	PlanContext(ctx context.Context, memberID uuid.UUID, at time.Time, procedureType string) (*PlanContext, error)
}

// BalanceReader reports what the wallet can still pay toward a procedure,
// ignoring any breakdown already attached to that procedure. Procedures that
// do not line up with their wallet wrap ErrInvalidInput.
type BalanceReader interface {
	BalanceForProcedure(ctx context.Context, p *Procedure) (int64, error)
}

// EstimateRequest is a stateless calculation. WalletBalance is optional; when
// set the wallet draw is applied too.
type EstimateRequest struct {
	Input
	WalletBalance *int64 `json:"wallet_balance,omitempty"`
}

type Service struct {
	repo       Repository
	procedures ProcedureStore
	plans      PlanReader
	balances   BalanceReader
	tx         db.Transactor
	logger     zerolog.Logger
}

func NewService(repo Repository, procedures ProcedureStore, plans PlanReader, balances BalanceReader, logger zerolog.Logger) *Service {
	return &Service{repo: repo, procedures: procedures, plans: plans, balances: balances, logger: logger}
}

// SetTransactor makes CalculateForProcedure atomic.
func (s *Service) SetTransactor(tx db.Transactor) {
	s.tx = tx
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

func (s *Service) Estimate(_ context.Context, req EstimateRequest) (Breakdown, error) {
	b, err := Calculate(req.Input)
	if err != nil {
		return Breakdown{}, err
	}
	if req.WalletBalance != nil {
		return ApplyWallet(b, *req.WalletBalance)
	}
	return b, nil
}

// CalculateForProcedure prices a treatment procedure against the member's plan
// and wallet, stores the result and links it from the procedure. Members
// without an active plan have no deductible or coinsurance; the wallet pays
// what it can.
func (s *Service) CalculateForProcedure(ctx context.Context, procedureID uuid.UUID) (*CostBreakdown, error) {
	p, err := s.procedures.ProcedureForCostBreakdown(ctx, procedureID)
	if err != nil {
		return nil, fmt.Errorf("load procedure: %w", err)
	}
	if p.Status == "cancelled" {
		return nil, fmt.Errorf("%w: procedure %s is cancelled", ErrProcedureNotCalculable, p.ID)
	}

	cb := &CostBreakdown{TreatmentProcedureID: p.ID, WalletID: p.WalletID}

	plan, err := s.plans.PlanContext(ctx, p.MemberID, p.StartDate, p.ProcedureType)
	switch {
	case errors.Is(err, ErrNoHealthPlan):
		cb.Breakdown = Breakdown{
			Cost:                   p.Cost,
			EmployerResponsibility: p.Cost,
			AmountType:             CoverageIndividual,
		}
	case err != nil:
		return nil, fmt.Errorf("load health plan: %w", err)
	default:
		b, err := Calculate(Input{Cost: p.Cost, Limits: plan.Limits, YTD: plan.YTD, Sharing: plan.Sharing})
		if err != nil {
			return nil, err
		}
		cb.Breakdown = b
		planID := plan.MemberHealthPlanID
		cb.MemberHealthPlanID = &planID
	}

	balance, err := s.balances.BalanceForProcedure(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("load wallet balance: %w", err)
	}
	if cb.Breakdown, err = ApplyWallet(cb.Breakdown, balance); err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, cb); err != nil {
			return fmt.Errorf("create cost breakdown: %w", err)
		}
		return s.procedures.AttachCostBreakdown(ctx, p.ID, cb.ID, cb.EmployerResponsibility)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("procedure_id", p.ID.String()).
		Str("cost_breakdown_id", cb.ID.String()).
		Int64("member_responsibility", cb.MemberResponsibility).
		Int64("employer_responsibility", cb.EmployerResponsibility).
		Int64("overage", cb.OverageAmount).
		Msg("cost breakdown calculated")
	return cb, nil
}

func (s *Service) GetCostBreakdown(ctx context.Context, id uuid.UUID) (*CostBreakdown, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByProcedure(ctx context.Context, procedureID uuid.UUID, limit, offset int) ([]*CostBreakdown, int, error) {
	return s.repo.ListByProcedure(ctx, procedureID, limit, offset)
}
