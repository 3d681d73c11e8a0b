package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/internal/platform/notification"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrBillValidation      = errors.New("bill validation failed")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrWalletNotQualified  = errors.New("wallet is not qualified")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// Notifier delivers member events.
type Notifier interface {
	Notify(ctx context.Context, ev notification.Event) (*notification.Notification, error)
}

// AccumulationRecorder queues a completed procedure for payer accumulation
// and marks it paid once the member settles the bill.
type AccumulationRecorder interface {
	RecordProcedure(ctx context.Context, procedureID, memberID, breakdownID uuid.UUID, completedAt time.Time) error
	MarkProcedurePaid(ctx context.Context, procedureID uuid.UUID) (int, error)
}

type Service struct {
	wallets    WalletRepository
	requests   RequestRepository
	procedures ProcedureRepository
	bills      BillRepository

	notifier     Notifier
	accumulation AccumulationRecorder
	tx           db.Transactor
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(w WalletRepository, r RequestRepository, p ProcedureRepository, b BillRepository, logger zerolog.Logger) *Service {
	return &Service{
		wallets:    w,
		requests:   r,
		procedures: p,
		bills:      b,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetNotifier(n Notifier)                         { s.notifier = n }
func (s *Service) SetAccumulationRecorder(a AccumulationRecorder) { s.accumulation = a }
func (s *Service) SetTransactor(tx db.Transactor)                 { s.tx = tx }

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

// notify is best effort: a failed event never fails the operation.
func (s *Service) notify(ctx context.Context, ev notification.Event) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", ev.Type).Str("member_id", ev.MemberID.String()).Msg("notify member")
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func formatCents(amount int64) string {
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return fmt.Sprintf("%s$%d.%02d", sign, amount/100, amount%100)
}

// -- Wallets --

func (s *Service) CreateWallet(ctx context.Context, w *Wallet) error {
	if w.MemberID == uuid.Nil {
		return invalid("member_id is required")
	}
	if w.OrganizationID == uuid.Nil {
		return invalid("organization_id is required")
	}
	if w.State == "" {
		w.State = WalletPending
	}
	if !validWalletStates[w.State] {
		return invalid("invalid state: %q", w.State)
	}
	if w.BenefitType == "" {
		w.BenefitType = BenefitCurrency
	}
	if w.BenefitType != BenefitCurrency && w.BenefitType != BenefitCycle {
		return invalid("invalid benefit_type: %q", w.BenefitType)
	}
	if w.Currency == "" {
		w.Currency = "USD"
	}
	if len(w.Categories) == 0 {
		return invalid("at least one category is required")
	}
	for _, c := range w.Categories {
		if c.Name == "" {
			return invalid("category name is required")
		}
		if c.LimitAmount < 0 || c.LimitCycles < 0 {
			return invalid("category %q limits must not be negative", c.Name)
		}
	}
	names := lo.Map(w.Categories, func(c *Category, _ int) string { return c.Name })
	if len(lo.Uniq(names)) != len(names) {
		return invalid("category names must be unique")
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.wallets.Create(ctx, w); err != nil {
			return fmt.Errorf("create wallet: %w", err)
		}
		for _, c := range w.Categories {
			c.WalletID = w.ID
			if err := s.wallets.CreateCategory(ctx, c); err != nil {
				return fmt.Errorf("create category %q: %w", c.Name, err)
			}
		}
		return nil
	})
}

// GetWallet returns the wallet with its categories.
func (s *Service) GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	w, err := s.wallets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Categories, err = s.wallets.ListCategories(ctx, id); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) ListWallets(ctx context.Context, memberID uuid.UUID) ([]*Wallet, error) {
	return s.wallets.ListByMember(ctx, memberID)
}

func (s *Service) UpdateWalletState(ctx context.Context, id uuid.UUID, state string) (*Wallet, error) {
	if !validWalletStates[state] {
		return nil, invalid("invalid state: %q", state)
	}
	if err := s.wallets.UpdateState(ctx, id, state); err != nil {
		return nil, err
	}
	s.logger.Info().Str("wallet_id", id.String()).Str("state", state).Msg("wallet state changed")
	return s.GetWallet(ctx, id)
}

// -- Balance --

func (s *Service) GetBalance(ctx context.Context, walletID uuid.UUID) (*Balance, error) {
	w, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return s.balance(ctx, w, uuid.Nil)
}

// balance subtracts charged requests and procedure draws from each category's
// limit. The procedure named by exclude is left out so it can be repriced.
func (s *Service) balance(ctx context.Context, w *Wallet, exclude uuid.UUID) (*Balance, error) {
	charged, err := s.requests.ListCharged(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("list charged requests: %w", err)
	}
	procs, err := s.procedures.ListByWallet(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	procs = lo.Filter(procs, func(p *TreatmentProcedure, _ int) bool { return p.counts() && p.ID != exclude })

	b := &Balance{WalletID: w.ID, BenefitType: w.BenefitType}
	for _, c := range w.Categories {
		inCategory := func(id uuid.UUID) bool { return id == c.ID }
		spent := lo.SumBy(charged, func(r *ReimbursementRequest) int64 {
			return lo.Ternary(inCategory(r.CategoryID), r.Amount, 0)
		}) + lo.SumBy(procs, func(p *TreatmentProcedure) int64 {
			return lo.Ternary(inCategory(p.CategoryID), p.EmployerResponsibility, 0)
		})

		cb := &CategoryBalance{CategoryID: c.ID, Name: c.Name, LimitAmount: c.LimitAmount, Spent: spent}
		if w.BenefitType == BenefitCycle {
			cb.LimitCycles = c.LimitCycles
			cb.CreditsUsed = lo.SumBy(procs, func(p *TreatmentProcedure) int {
				return lo.Ternary(inCategory(p.CategoryID), p.CostCredit, 0)
			})
			cb.Limited = c.LimitCycles > 0
			if cb.Limited {
				cb.CreditsAvailable = max(c.LimitCycles-cb.CreditsUsed, 0)
			}
		} else {
			cb.Limited = c.LimitAmount > 0
			if cb.Limited {
				cb.Available = max(c.LimitAmount-spent, 0)
			}
		}
		b.Categories = append(b.Categories, cb)
	}
	return b, nil
}

func (b *Balance) category(id uuid.UUID) (*CategoryBalance, bool) {
	return lo.Find(b.Categories, func(c *CategoryBalance) bool { return c.CategoryID == id })
}
