package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/memberhealth/benefits/internal/platform/notification"
)

func (s *Service) categoryOf(ctx context.Context, walletID, categoryID uuid.UUID) (*Category, error) {
	cats, err := s.wallets.ListCategories(ctx, walletID)
	if err != nil {
		return nil, err
	}
	c, ok := lo.Find(cats, func(c *Category) bool { return c.ID == categoryID })
	if !ok {
		return nil, invalid("category %s does not belong to wallet %s", categoryID, walletID)
	}
	return c, nil
}

// SubmitRequest files a reimbursement request against a qualified wallet.
func (s *Service) SubmitRequest(ctx context.Context, rr *ReimbursementRequest) error {
	w, err := s.wallets.GetByID(ctx, rr.WalletID)
	if err != nil {
		return err
	}
	if w.State != WalletQualified {
		return fmt.Errorf("%w: wallet %s is %s", ErrWalletNotQualified, w.ID, w.State)
	}
	if _, err := s.categoryOf(ctx, w.ID, rr.CategoryID); err != nil {
		return err
	}
	if rr.Amount <= 0 {
		return invalid("amount must be positive")
	}
	if rr.ServiceStartDate.IsZero() {
		return invalid("service_start_date is required")
	}
	if rr.ServiceEndDate != nil && rr.ServiceEndDate.Before(rr.ServiceStartDate) {
		return invalid("service_end_date is before service_start_date")
	}
	rr.State = RequestNew
	rr.StateReason = ""
	return s.requests.Create(ctx, rr)
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*ReimbursementRequest, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*ReimbursementRequest, int, error) {
	return s.requests.ListByWallet(ctx, walletID, limit, offset)
}

// TransitionRequest moves a request along its state machine. Approval checks
// the category still has room; denial needs a reason.
func (s *Service) TransitionRequest(ctx context.Context, id uuid.UUID, to, reason string) (*ReimbursementRequest, error) {
	rr, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(requestTransitions, rr.State, to) {
		return nil, fmt.Errorf("%w: reimbursement request %s -> %s", ErrInvalidTransition, rr.State, to)
	}
	if to == RequestDenied && reason == "" {
		return nil, invalid("a reason is required to deny a request")
	}

	w, err := s.GetWallet(ctx, rr.WalletID)
	if err != nil {
		return nil, err
	}
	// Pending and failed requests are not charged, so approving either one
	// must fit in what the category has left.
	if to == RequestApproved {
		bal, err := s.balance(ctx, w, uuid.Nil)
		if err != nil {
			return nil, err
		}
		if cb, ok := bal.category(rr.CategoryID); ok && cb.Limited && w.BenefitType == BenefitCurrency && cb.Available < rr.Amount {
			return nil, fmt.Errorf("%w: %s available, %s requested", ErrInsufficientBalance,
				formatCents(cb.Available), formatCents(rr.Amount))
		}
	}

	from := rr.State
	rr.State = to
	rr.StateReason = reason
	if err := s.requests.Update(ctx, rr); err != nil {
		return nil, fmt.Errorf("update reimbursement request: %w", err)
	}

	s.logger.Info().
		Str("reimbursement_request_id", rr.ID.String()).
		Str("from", from).
		Str("to", to).
		Msg("reimbursement request transitioned")
	s.notify(ctx, notification.Event{
		Type:       notification.EventReimbursementStatus,
		MemberID:   w.MemberID,
		TemplateID: "reimbursement-status",
		Data: map[string]string{
			"reimbursement_request_id": rr.ID.String(),
			"amount":                   formatCents(rr.Amount),
			"state":                    to,
			"reason":                   reason,
		},
	})
	return rr, nil
}
