package wallet

import (
	"time"

	"github.com/google/uuid"
)

const (
	WalletPending      = "pending"
	WalletQualified    = "qualified"
	WalletDisqualified = "disqualified"
	WalletExpired      = "expired"
	WalletRunout       = "runout"

	BenefitCurrency = "currency"
	BenefitCycle    = "cycle"
)

// Wallet is a member's reimbursement account. Amounts are cents.
type Wallet struct {
	ID             uuid.UUID   `json:"id"`
	MemberID       uuid.UUID   `json:"member_id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	State          string      `json:"state"`
	BenefitType    string      `json:"benefit_type"`
	Currency       string      `json:"currency"`
	Categories     []*Category `json:"categories,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Category is a spending bucket inside a wallet. A zero limit is unlimited.
type Category struct {
	ID          uuid.UUID `json:"id"`
	WalletID    uuid.UUID `json:"wallet_id"`
	Name        string    `json:"name"`
	LimitAmount int64     `json:"limit_amount"`
	LimitCycles int       `json:"limit_cycles"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	RequestNew          = "new"
	RequestPending      = "pending"
	RequestNeedsReceipt = "needs_receipt"
	RequestApproved     = "approved"
	RequestDenied       = "denied"
	RequestReimbursed   = "reimbursed"
	RequestFailed       = "failed"
	RequestRefunded     = "refunded"
)

type ReimbursementRequest struct {
	ID               uuid.UUID  `json:"id"`
	WalletID         uuid.UUID  `json:"wallet_id"`
	CategoryID       uuid.UUID  `json:"category_id"`
	Amount           int64      `json:"amount"`
	Description      string     `json:"description"`
	ServiceStartDate time.Time  `json:"service_start_date"`
	ServiceEndDate   *time.Time `json:"service_end_date,omitempty"`
	State            string     `json:"state"`
	StateReason      string     `json:"state_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

const (
	ProcedureScheduled          = "scheduled"
	ProcedureCompleted          = "completed"
	ProcedurePartiallyCompleted = "partially_completed"
	ProcedureCancelled          = "cancelled"

	ProcedureMedical  = "medical"
	ProcedurePharmacy = "pharmacy"
)

type TreatmentProcedure struct {
	ID                     uuid.UUID  `json:"id"`
	MemberID               uuid.UUID  `json:"member_id"`
	WalletID               uuid.UUID  `json:"wallet_id"`
	CategoryID             uuid.UUID  `json:"category_id"`
	ProcedureName          string     `json:"procedure_name"`
	ProcedureType          string     `json:"procedure_type"`
	Cost                   int64      `json:"cost"`
	CostCredit             int        `json:"cost_credit"`
	StartDate              time.Time  `json:"start_date"`
	EndDate                *time.Time `json:"end_date,omitempty"`
	Status                 string     `json:"status"`
	CostBreakdownID        *uuid.UUID `json:"cost_breakdown_id,omitempty"`
	EmployerResponsibility int64      `json:"employer_responsibility"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// counts reports whether the procedure draws on the wallet.
func (p *TreatmentProcedure) counts() bool {
	return p.Status != ProcedureCancelled
}

const (
	PayorMember   = "member"
	PayorEmployer = "employer"
	PayorClinic   = "clinic"

	BillNew        = "new"
	BillProcessing = "processing"
	BillPaid       = "paid"
	BillFailed     = "failed"
	BillCancelled  = "cancelled"
	BillRefunded   = "refunded"
)

// Bill charges one payor for a procedure. Negative amounts are refunds.
type Bill struct {
	ID           uuid.UUID  `json:"id"`
	ProcedureID  uuid.UUID  `json:"procedure_id"`
	PayorType    string     `json:"payor_type"`
	PayorID      uuid.UUID  `json:"payor_id"`
	Amount       int64      `json:"amount"`
	Status       string     `json:"status"`
	ErrorReason  string     `json:"error_reason,omitempty"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (b *Bill) open() bool {
	return b.Status == BillNew || b.Status == BillProcessing || b.Status == BillFailed
}

// CategoryBalance is what is left in one category. Unlimited categories report
// Limited=false and no Available amount.
type CategoryBalance struct {
	CategoryID       uuid.UUID `json:"category_id"`
	Name             string    `json:"name"`
	Limited          bool      `json:"limited"`
	LimitAmount      int64     `json:"limit_amount"`
	Spent            int64     `json:"spent"`
	Available        int64     `json:"available"`
	LimitCycles      int       `json:"limit_cycles,omitempty"`
	CreditsUsed      int       `json:"credits_used,omitempty"`
	CreditsAvailable int       `json:"credits_available,omitempty"`
}

type Balance struct {
	WalletID    uuid.UUID          `json:"wallet_id"`
	BenefitType string             `json:"benefit_type"`
	Categories  []*CategoryBalance `json:"categories"`
}
