package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
	"github.com/memberhealth/benefits/internal/platform/notification"
)

var validProcedureTypes = map[string]bool{ProcedureMedical: true, ProcedurePharmacy: true}

func (s *Service) CreateProcedure(ctx context.Context, p *TreatmentProcedure) error {
	w, err := s.wallets.GetByID(ctx, p.WalletID)
	if err != nil {
		return err
	}
	if w.State != WalletQualified {
		return fmt.Errorf("%w: wallet %s is %s", ErrWalletNotQualified, w.ID, w.State)
	}
	if _, err := s.categoryOf(ctx, w.ID, p.CategoryID); err != nil {
		return err
	}
	if p.MemberID == uuid.Nil {
		p.MemberID = w.MemberID
	}
	if p.ProcedureName == "" {
		return invalid("procedure_name is required")
	}
	if p.ProcedureType == "" {
		p.ProcedureType = ProcedureMedical
	}
	if !validProcedureTypes[p.ProcedureType] {
		return invalid("invalid procedure_type: %q", p.ProcedureType)
	}
	if p.Cost <= 0 {
		return invalid("cost must be positive")
	}
	if p.CostCredit < 0 {
		return invalid("cost_credit must not be negative")
	}
	if w.BenefitType == BenefitCycle && p.CostCredit == 0 {
		return invalid("cost_credit is required for cycle wallets")
	}
	if p.StartDate.IsZero() {
		return invalid("start_date is required")
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return invalid("end_date is before start_date")
	}
	p.Status = ProcedureScheduled
	p.CostBreakdownID = nil
	p.EmployerResponsibility = 0
	p.CompletedAt = nil
	return s.procedures.Create(ctx, p)
}

func (s *Service) GetProcedure(ctx context.Context, id uuid.UUID) (*TreatmentProcedure, error) {
	return s.procedures.GetByID(ctx, id)
}

func (s *Service) ListProcedures(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*TreatmentProcedure, int, error) {
	return s.procedures.ListByMember(ctx, memberID, limit, offset)
}

// CompleteProcedure marks a scheduled procedure completed (or partially
// completed). A priced procedure is handed to accumulation in the same
// transaction.
func (s *Service) CompleteProcedure(ctx context.Context, id uuid.UUID, partial bool, endDate *time.Time) (*TreatmentProcedure, error) {
	p, err := s.procedures.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != ProcedureScheduled {
		return nil, fmt.Errorf("%w: procedure %s is %s", ErrInvalidTransition, p.ID, p.Status)
	}
	now := s.now()
	if endDate == nil {
		endDate = &now
	}
	if endDate.Before(p.StartDate) {
		return nil, invalid("end_date is before start_date")
	}

	p.Status = ProcedureCompleted
	if partial {
		p.Status = ProcedurePartiallyCompleted
	}
	p.EndDate = endDate
	p.CompletedAt = &now

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.procedures.Update(ctx, p); err != nil {
			return fmt.Errorf("update procedure: %w", err)
		}
		if p.CostBreakdownID == nil || s.accumulation == nil {
			return nil
		}
		if err := s.accumulation.RecordProcedure(ctx, p.ID, p.MemberID, *p.CostBreakdownID, now); err != nil {
			return fmt.Errorf("record accumulation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("procedure_id", p.ID.String()).
		Str("member_id", p.MemberID.String()).
		Str("status", p.Status).
		Msg("treatment procedure completed")
	s.notify(ctx, notification.Event{
		Type:       notification.EventProcedureCompleted,
		MemberID:   p.MemberID,
		TemplateID: "procedure-completed",
		Data: map[string]string{
			"procedure_id":            p.ID.String(),
			"procedure_name":          p.ProcedureName,
			"completed_at":            now.Format("2006-01-02"),
			"employer_responsibility": formatCents(p.EmployerResponsibility),
		},
	})
	return p, nil
}

// CancelProcedure cancels a scheduled procedure and its unbilled charges.
func (s *Service) CancelProcedure(ctx context.Context, id uuid.UUID) (*TreatmentProcedure, error) {
	p, err := s.procedures.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != ProcedureScheduled {
		return nil, fmt.Errorf("%w: procedure %s is %s", ErrInvalidTransition, p.ID, p.Status)
	}
	p.Status = ProcedureCancelled

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.procedures.Update(ctx, p); err != nil {
			return fmt.Errorf("update procedure: %w", err)
		}
		bills, err := s.bills.ListByProcedure(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, b := range bills {
			if b.Status != BillNew {
				continue
			}
			b.Status = BillCancelled
			if err := s.bills.Update(ctx, b); err != nil {
				return fmt.Errorf("cancel bill %s: %w", b.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProcedureForCostBreakdown implements costbreakdown.ProcedureStore.
func (s *Service) ProcedureForCostBreakdown(ctx context.Context, id uuid.UUID) (*costbreakdown.Procedure, error) {
	p, err := s.procedures.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &costbreakdown.Procedure{
		ID:            p.ID,
		MemberID:      p.MemberID,
		WalletID:      p.WalletID,
		CategoryID:    p.CategoryID,
		ProcedureType: p.ProcedureType,
		Status:        p.Status,
		Cost:          p.Cost,
		CostCredit:    p.CostCredit,
		StartDate:     p.StartDate,
	}, nil
}

// AttachCostBreakdown implements costbreakdown.ProcedureStore.
func (s *Service) AttachCostBreakdown(ctx context.Context, procedureID, breakdownID uuid.UUID, employerResponsibility int64) error {
	p, err := s.procedures.GetByID(ctx, procedureID)
	if err != nil {
		return err
	}
	p.CostBreakdownID = &breakdownID
	p.EmployerResponsibility = employerResponsibility
	return s.procedures.Update(ctx, p)
}

// BalanceForProcedure implements costbreakdown.BalanceReader. Cycle wallets
// cover the whole cost while enough credits remain, otherwise nothing.
func (s *Service) BalanceForProcedure(ctx context.Context, p *costbreakdown.Procedure) (int64, error) {
	w, err := s.GetWallet(ctx, p.WalletID)
	if err != nil {
		return 0, err
	}
	if w.State != WalletQualified {
		return 0, nil
	}
	bal, err := s.balance(ctx, w, p.ID)
	if err != nil {
		return 0, err
	}
	cb, ok := bal.category(p.CategoryID)
	if !ok {
		return 0, fmt.Errorf("%w: %w", costbreakdown.ErrInvalidInput,
			invalid("category %s does not belong to wallet %s", p.CategoryID, w.ID))
	}
	switch {
	case !cb.Limited:
		return p.Cost, nil
	case w.BenefitType == BenefitCycle:
		if cb.CreditsAvailable >= p.CostCredit {
			return p.Cost, nil
		}
		return 0, nil
	default:
		return cb.Available, nil
	}
}
