package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/memberhealth/benefits/internal/platform/db"
)

var validPayors = map[string]bool{PayorMember: true, PayorEmployer: true, PayorClinic: true}

func billInvalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBillValidation, fmt.Sprintf(format, args...))
}

// CreateBill validates and stores a new bill. A payor may have only one open
// bill per procedure, and a refund may not exceed what that payor paid.
func (s *Service) CreateBill(ctx context.Context, b *Bill) error {
	if !validPayors[b.PayorType] {
		return billInvalid("invalid payor_type: %q", b.PayorType)
	}
	if b.PayorID == uuid.Nil {
		return billInvalid("payor_id is required")
	}
	if b.Amount == 0 {
		return billInvalid("amount must not be zero")
	}
	p, err := s.procedures.GetByID(ctx, b.ProcedureID)
	if errors.Is(err, db.ErrNotFound) {
		return billInvalid("procedure %s does not exist", b.ProcedureID)
	}
	if err != nil {
		return err
	}
	if b.Amount > 0 && p.Status == ProcedureCancelled {
		return billInvalid("procedure %s is cancelled", p.ID)
	}

	existing, err := s.bills.ListByProcedure(ctx, p.ID)
	if err != nil {
		return err
	}
	samePayor := lo.Filter(existing, func(o *Bill, _ int) bool {
		return o.PayorType == b.PayorType && o.PayorID == b.PayorID
	})
	if b.Amount > 0 {
		if lo.ContainsBy(samePayor, func(o *Bill) bool { return o.Amount > 0 && o.open() }) {
			return billInvalid("payor already has an open bill for procedure %s", p.ID)
		}
	} else {
		paid := lo.SumBy(samePayor, func(o *Bill) int64 {
			return lo.Ternary(o.Status == BillPaid, o.Amount, 0)
		})
		refunded := lo.SumBy(samePayor, func(o *Bill) int64 {
			return lo.Ternary(o.Amount < 0 && o.Status != BillCancelled && o.Status != BillFailed, -o.Amount, 0)
		})
		if -b.Amount > paid-refunded {
			return billInvalid("refund of %s exceeds %s paid", formatCents(-b.Amount), formatCents(paid-refunded))
		}
	}

	b.Status = BillNew
	b.ErrorReason = ""
	b.ProcessingAt, b.PaidAt = nil, nil
	return s.bills.Create(ctx, b)
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.bills.GetByID(ctx, id)
}

func (s *Service) ListBills(ctx context.Context, procedureID uuid.UUID) ([]*Bill, error) {
	return s.bills.ListByProcedure(ctx, procedureID)
}

// TransitionBill moves a bill along its state machine. Failing a bill needs a
// reason.
func (s *Service) TransitionBill(ctx context.Context, id uuid.UUID, to, reason string) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(billTransitions, b.Status, to) {
		return nil, fmt.Errorf("%w: bill %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	now := s.now()
	switch to {
	case BillProcessing:
		b.ProcessingAt = &now
		b.ErrorReason = ""
	case BillPaid:
		b.PaidAt = &now
	case BillFailed:
		if reason == "" {
			return nil, billInvalid("error reason is required to fail a bill")
		}
		b.ErrorReason = reason
	}
	from := b.Status
	b.Status = to
	if err := s.bills.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("update bill: %w", err)
	}
	s.logger.Info().
		Str("bill_id", b.ID.String()).
		Str("procedure_id", b.ProcedureID.String()).
		Str("from", from).
		Str("to", to).
		Msg("bill transitioned")

	if to == BillPaid && b.PayorType == PayorMember && s.accumulation != nil {
		if _, err := s.accumulation.MarkProcedurePaid(ctx, b.ProcedureID); err != nil {
			s.logger.Warn().Err(err).Str("bill_id", b.ID.String()).Msg("mark accumulation paid")
		}
	}
	return b, nil
}
