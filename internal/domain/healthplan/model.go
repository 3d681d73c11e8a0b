package healthplan

import (
	"time"

	"github.com/google/uuid"

	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
)

// EmployerHealthPlan is the plan an employer offers. Amounts are cents.
type EmployerHealthPlan struct {
	ID                     uuid.UUID                 `json:"id"`
	Name                   string                    `json:"name"`
	OrganizationID         uuid.UUID                 `json:"organization_id"`
	Payer                  string                    `json:"payer"`
	IndividualDeductible   int64                     `json:"individual_deductible"`
	IndividualOOPMax       int64                     `json:"individual_oop_max"`
	FamilyDeductible       int64                     `json:"family_deductible"`
	FamilyOOPMax           int64                     `json:"family_oop_max"`
	IsDeductibleEmbedded   bool                      `json:"is_deductible_embedded"`
	IsOOPEmbedded          bool                      `json:"is_oop_embedded"`
	RxIntegrated           bool                      `json:"rx_integrated"`
	RxIndividualDeductible int64                     `json:"rx_individual_deductible"`
	RxIndividualOOPMax     int64                     `json:"rx_individual_oop_max"`
	RxFamilyDeductible     int64                     `json:"rx_family_deductible"`
	RxFamilyOOPMax         int64                     `json:"rx_family_oop_max"`
	MedicalSharing         costbreakdown.CostSharing `json:"medical_cost_sharing"`
	PharmacySharing        costbreakdown.CostSharing `json:"pharmacy_cost_sharing"`
	StartDate              time.Time                 `json:"start_date"`
	EndDate                time.Time                 `json:"end_date"`
	CreatedAt              time.Time                 `json:"created_at"`
	UpdatedAt              time.Time                 `json:"updated_at"`
}

// MemberHealthPlan enrolls a member (subscriber or dependent) in an employer plan.
type MemberHealthPlan struct {
	ID                    uuid.UUID                  `json:"id"`
	MemberID              uuid.UUID                  `json:"member_id"`
	WalletID              *uuid.UUID                 `json:"wallet_id,omitempty"`
	EmployerHealthPlanID  uuid.UUID                  `json:"employer_health_plan_id"`
	SubscriberInsuranceID string                     `json:"subscriber_insurance_id"`
	SubscriberFirstName   string                     `json:"subscriber_first_name"`
	SubscriberLastName    string                     `json:"subscriber_last_name"`
	SubscriberDOB         time.Time                  `json:"subscriber_date_of_birth"`
	PatientFirstName      string                     `json:"patient_first_name"`
	PatientLastName       string                     `json:"patient_last_name"`
	PatientDOB            time.Time                  `json:"patient_date_of_birth"`
	PatientSex            string                     `json:"patient_sex"`
	IsSubscriber          bool                       `json:"is_subscriber"`
	PlanType              costbreakdown.CoverageType `json:"plan_type"`
	PlanStartAt           time.Time                  `json:"plan_start_at"`
	PlanEndAt             *time.Time                 `json:"plan_end_at,omitempty"`
	CreatedAt             time.Time                  `json:"created_at"`
	UpdatedAt             time.Time                  `json:"updated_at"`
}

// ActiveAt reports whether the plan covers t. The end is exclusive.
func (m *MemberHealthPlan) ActiveAt(t time.Time) bool {
	if t.Before(m.PlanStartAt) {
		return false
	}
	return m.PlanEndAt == nil || t.Before(*m.PlanEndAt)
}

func (m *MemberHealthPlan) overlaps(o *MemberHealthPlan) bool {
	startsBeforeOtherEnds := o.PlanEndAt == nil || m.PlanStartAt.Before(*o.PlanEndAt)
	otherStartsBeforeEnd := m.PlanEndAt == nil || o.PlanStartAt.Before(*m.PlanEndAt)
	return startsBeforeOtherEnds && otherStartsBeforeEnd
}

const (
	SourceMaven     = "maven"
	SourcePayerFile = "payer_file"

	SpendMedical = "medical"
	SpendRx      = "rx"
)

// YTDSpend is one source's year-to-date accumulation for a member under a policy.
type YTDSpend struct {
	ID                uuid.UUID `json:"id"`
	PolicyID          string    `json:"policy_id"`
	MemberID          uuid.UUID `json:"member_id"`
	Year              int       `json:"year"`
	Source            string    `json:"source"`
	Type              string    `json:"type"`
	DeductibleApplied int64     `json:"deductible_applied"`
	OOPApplied        int64     `json:"oop_applied"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
