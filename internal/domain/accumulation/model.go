package accumulation

import (
	"time"

	"github.com/google/uuid"
)

// Mapping statuses.
const (
	MappingWaiting    = "waiting"
	MappingPaid       = "paid"
	MappingProcessing = "processing"
	MappingSubmitted  = "submitted"
	MappingAccepted   = "accepted"
	MappingRejected   = "rejected"
	MappingRowError   = "row_error"
	MappingSkip       = "skip"
)

// Report statuses.
const (
	ReportNew       = "new"
	ReportSubmitted = "submitted"
	ReportFailure   = "failure"
)

// Payer response codes.
const (
	ResponseAccepted = "AC"
	ResponseRejected = "RJ"
)

// Mapping ties one procedure (or reimbursement request) to the amounts it
// applied toward a member's limits, and tracks its trip to the payer.
type Mapping struct {
	ID                     uuid.UUID  `json:"id"`
	TreatmentProcedureID   *uuid.UUID `json:"treatment_procedure_id,omitempty"`
	ReimbursementRequestID *uuid.UUID `json:"reimbursement_request_id,omitempty"`
	MemberID               uuid.UUID  `json:"member_id"`
	Payer                  string     `json:"payer"`
	SpendType              string     `json:"spend_type"`
	ReportID               *uuid.UUID `json:"report_id,omitempty"`
	Status                 string     `json:"status"`
	Deductible             int64      `json:"deductible"`
	OOPApplied             int64      `json:"oop_applied"`
	IsReversal             bool       `json:"is_reversal"`
	ServiceDate            time.Time  `json:"service_date"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	RowErrorReason         string     `json:"row_error_reason,omitempty"`
	ResponseCode           string     `json:"response_code,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Report is one generated payer file.
type Report struct {
	ID              uuid.UUID `json:"id"`
	Payer           string    `json:"payer"`
	Filename        string    `json:"filename"`
	ReportDate      time.Time `json:"report_date"`
	Status          string    `json:"status"`
	RecordCount     int       `json:"record_count"`
	TotalDeductible int64     `json:"total_deductible"`
	TotalOOP        int64     `json:"total_oop"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FileKey is where the report's file lives in the file store.
func (r *Report) FileKey() string {
	return FileKey(r.Payer, r.Filename)
}

func FileKey(payer, filename string) string {
	return "payer_accumulation/" + payer + "/" + filename
}

// MappingFilter narrows a mapping listing. Empty fields match everything.
type MappingFilter struct {
	Payer       string
	Status      string
	MemberID    uuid.UUID
	ReportID    uuid.UUID
	ProcedureID uuid.UUID
}
