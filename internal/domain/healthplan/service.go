package healthplan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
)

var (
	ErrInvalidPlan     = errors.New("invalid health plan")
	ErrOverlappingPlan = errors.New("member already has a health plan for this period")
)

var validPayers = map[string]bool{
	"aetna": true, "anthem": true, "bcbs": true, "cigna": true, "credence": true,
	"esi": true, "luminare": true, "premera": true, "surest": true, "uhc": true,
}

var validPlanTypes = map[costbreakdown.CoverageType]bool{
	costbreakdown.CoverageIndividual: true, costbreakdown.CoverageFamily: true,
}

var validSources = map[string]bool{SourceMaven: true, SourcePayerFile: true}

var validSpendTypes = map[string]bool{SpendMedical: true, SpendRx: true}

type Service struct {
	employers EmployerPlanRepository
	members   MemberPlanRepository
	ytd       YTDSpendRepository
}

func NewService(e EmployerPlanRepository, m MemberPlanRepository, y YTDSpendRepository) *Service {
	return &Service{employers: e, members: m, ytd: y}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPlan, fmt.Sprintf(format, args...))
}

// -- Employer plans --

func validateEmployerPlan(p *EmployerHealthPlan) error {
	if p.Name == "" {
		return invalid("name is required")
	}
	if p.OrganizationID == uuid.Nil {
		return invalid("organization_id is required")
	}
	if !validPayers[p.Payer] {
		return invalid("unknown payer: %q", p.Payer)
	}
	amounts := map[string]int64{
		"individual_deductible": p.IndividualDeductible, "individual_oop_max": p.IndividualOOPMax,
		"family_deductible": p.FamilyDeductible, "family_oop_max": p.FamilyOOPMax,
		"rx_individual_deductible": p.RxIndividualDeductible, "rx_individual_oop_max": p.RxIndividualOOPMax,
		"rx_family_deductible": p.RxFamilyDeductible, "rx_family_oop_max": p.RxFamilyOOPMax,
	}
	for name, v := range amounts {
		if v < 0 {
			return invalid("%s must not be negative", name)
		}
	}
	if p.FamilyDeductible > 0 && p.IndividualDeductible > p.FamilyDeductible {
		return invalid("individual deductible exceeds family deductible")
	}
	if p.FamilyOOPMax > 0 && p.IndividualOOPMax > p.FamilyOOPMax {
		return invalid("individual oop max exceeds family oop max")
	}
	if p.IndividualOOPMax > 0 && p.IndividualDeductible > p.IndividualOOPMax {
		return invalid("individual deductible exceeds individual oop max")
	}
	if err := p.MedicalSharing.Validate(); err != nil {
		return invalid("medical cost sharing: %v", err)
	}
	if err := p.PharmacySharing.Validate(); err != nil {
		return invalid("pharmacy cost sharing: %v", err)
	}
	if p.StartDate.IsZero() || !p.StartDate.Before(p.EndDate) {
		return invalid("start_date must be before end_date")
	}
	return nil
}

func (s *Service) CreateEmployerPlan(ctx context.Context, p *EmployerHealthPlan) error {
	if err := validateEmployerPlan(p); err != nil {
		return err
	}
	return s.employers.Create(ctx, p)
}

func (s *Service) UpdateEmployerPlan(ctx context.Context, p *EmployerHealthPlan) error {
	if err := validateEmployerPlan(p); err != nil {
		return err
	}
	return s.employers.Update(ctx, p)
}

func (s *Service) GetEmployerPlan(ctx context.Context, id uuid.UUID) (*EmployerHealthPlan, error) {
	return s.employers.GetByID(ctx, id)
}

func (s *Service) DeleteEmployerPlan(ctx context.Context, id uuid.UUID) error {
	return s.employers.Delete(ctx, id)
}

func (s *Service) ListEmployerPlans(ctx context.Context, limit, offset int) ([]*EmployerHealthPlan, int, error) {
	return s.employers.List(ctx, limit, offset)
}

// -- Member plans --

func (s *Service) validateMemberPlan(ctx context.Context, p *MemberHealthPlan) error {
	if p.MemberID == uuid.Nil {
		return invalid("member_id is required")
	}
	if p.SubscriberInsuranceID == "" {
		return invalid("subscriber_insurance_id is required")
	}
	if p.PatientFirstName == "" || p.PatientLastName == "" {
		return invalid("patient name is required")
	}
	if p.PatientDOB.IsZero() {
		return invalid("patient_date_of_birth is required")
	}
	if p.IsSubscriber {
		if p.SubscriberFirstName == "" {
			p.SubscriberFirstName, p.SubscriberLastName = p.PatientFirstName, p.PatientLastName
		}
		if p.SubscriberDOB.IsZero() {
			p.SubscriberDOB = p.PatientDOB
		}
	}
	if !validPlanTypes[p.PlanType] {
		return invalid("invalid plan_type: %q", p.PlanType)
	}
	if p.PlanStartAt.IsZero() {
		return invalid("plan_start_at is required")
	}
	if p.PlanEndAt != nil && !p.PlanStartAt.Before(*p.PlanEndAt) {
		return invalid("plan_start_at must be before plan_end_at")
	}
	if p.PatientSex == "" {
		p.PatientSex = "unknown"
	}
	if _, err := s.employers.GetByID(ctx, p.EmployerHealthPlanID); err != nil {
		return fmt.Errorf("employer health plan %s: %w", p.EmployerHealthPlanID, err)
	}

	existing, err := s.members.ListByMember(ctx, p.MemberID)
	if err != nil {
		return err
	}
	if lo.ContainsBy(existing, func(o *MemberHealthPlan) bool { return o.ID != p.ID && p.overlaps(o) }) {
		return ErrOverlappingPlan
	}
	return nil
}

func (s *Service) CreateMemberPlan(ctx context.Context, p *MemberHealthPlan) error {
	if err := s.validateMemberPlan(ctx, p); err != nil {
		return err
	}
	return s.members.Create(ctx, p)
}

func (s *Service) UpdateMemberPlan(ctx context.Context, p *MemberHealthPlan) error {
	if err := s.validateMemberPlan(ctx, p); err != nil {
		return err
	}
	return s.members.Update(ctx, p)
}

func (s *Service) GetMemberPlan(ctx context.Context, id uuid.UUID) (*MemberHealthPlan, error) {
	return s.members.GetByID(ctx, id)
}

func (s *Service) DeleteMemberPlan(ctx context.Context, id uuid.UUID) error {
	return s.members.Delete(ctx, id)
}

func (s *Service) ListMemberPlans(ctx context.Context, memberID uuid.UUID) ([]*MemberHealthPlan, error) {
	return s.members.ListByMember(ctx, memberID)
}

// GetActivePlan returns the member's plan covering at, or
// costbreakdown.ErrNoHealthPlan.
func (s *Service) GetActivePlan(ctx context.Context, memberID uuid.UUID, at time.Time) (*MemberHealthPlan, error) {
	plans, err := s.members.ListByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	plan, ok := lo.Find(plans, func(p *MemberHealthPlan) bool { return p.ActiveAt(at) })
	if !ok {
		return nil, costbreakdown.ErrNoHealthPlan
	}
	return plan, nil
}

// ActivePlan returns the member plan covering at together with its employer plan.
func (s *Service) ActivePlan(ctx context.Context, memberID uuid.UUID, at time.Time) (*MemberHealthPlan, *EmployerHealthPlan, error) {
	member, err := s.GetActivePlan(ctx, memberID, at)
	if err != nil {
		return nil, nil, err
	}
	employer, err := s.employers.GetByID(ctx, member.EmployerHealthPlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("employer health plan %s: %w", member.EmployerHealthPlanID, err)
	}
	return member, employer, nil
}

// LimitsFor picks the limits and cost sharing that apply to a procedure.
// Pharmacy procedures on plans with a separate rx benefit use the rx limits.
func LimitsFor(e *EmployerHealthPlan, m *MemberHealthPlan, procedureType string) (costbreakdown.PlanLimits, costbreakdown.CostSharing) {
	limits := costbreakdown.PlanLimits{
		CoverageType:         m.PlanType,
		IndividualDeductible: e.IndividualDeductible,
		IndividualOOPMax:     e.IndividualOOPMax,
		FamilyDeductible:     e.FamilyDeductible,
		FamilyOOPMax:         e.FamilyOOPMax,
		IsDeductibleEmbedded: e.IsDeductibleEmbedded,
		IsOOPEmbedded:        e.IsOOPEmbedded,
	}
	if procedureType != "pharmacy" {
		return limits, e.MedicalSharing
	}
	if !e.RxIntegrated {
		limits.IndividualDeductible = e.RxIndividualDeductible
		limits.IndividualOOPMax = e.RxIndividualOOPMax
		limits.FamilyDeductible = e.RxFamilyDeductible
		limits.FamilyOOPMax = e.RxFamilyOOPMax
	}
	return limits, e.PharmacySharing
}

// SpendTypeFor maps a procedure type to the accumulator it counts toward.
func SpendTypeFor(procedureType string) string {
	if procedureType == "pharmacy" {
		return SpendRx
	}
	return SpendMedical
}

// spendTypesFor lists the accumulators that share limits with procedureType.
// Integrated plans pool medical and rx spend.
func spendTypesFor(e *EmployerHealthPlan, procedureType string) []string {
	if e.RxIntegrated {
		return []string{SpendMedical, SpendRx}
	}
	return []string{SpendTypeFor(procedureType)}
}

// YTDSpend aggregates every source's records for the plan year. Individual
// totals are the member's own records; family totals include every member
// under the same subscriber policy.
func (s *Service) YTDSpend(ctx context.Context, m *MemberHealthPlan, year int, spendTypes ...string) (costbreakdown.YearToDateSpend, error) {
	records, err := s.ytd.ListByPolicy(ctx, m.SubscriberInsuranceID, year)
	if err != nil {
		return costbreakdown.YearToDateSpend{}, fmt.Errorf("list ytd spend: %w", err)
	}
	return aggregateYTD(records, m.MemberID, spendTypes), nil
}

// aggregateYTD sums the policy's records. The sources never overlap: maven
// rows hold what our own procedures applied, payer_file rows hold claims the
// payer adjudicated without us. Each source keeps one running total per
// member, type and year, so summing across sources counts every claim once.
func aggregateYTD(records []*YTDSpend, memberID uuid.UUID, spendTypes []string) costbreakdown.YearToDateSpend {
	matching := lo.Filter(records, func(r *YTDSpend, _ int) bool {
		return len(spendTypes) == 0 || lo.Contains(spendTypes, r.Type)
	})
	own := lo.Filter(matching, func(r *YTDSpend, _ int) bool { return r.MemberID == memberID })

	return costbreakdown.YearToDateSpend{
		IndividualDeductible: lo.SumBy(own, func(r *YTDSpend) int64 { return r.DeductibleApplied }),
		IndividualOOP:        lo.SumBy(own, func(r *YTDSpend) int64 { return r.OOPApplied }),
		FamilyDeductible:     lo.SumBy(matching, func(r *YTDSpend) int64 { return r.DeductibleApplied }),
		FamilyOOP:            lo.SumBy(matching, func(r *YTDSpend) int64 { return r.OOPApplied }),
	}
}

// PlanContext resolves limits, cost sharing and year-to-date spend for a
// member on a date of service. The plan year is the calendar year.
func (s *Service) PlanContext(ctx context.Context, memberID uuid.UUID, at time.Time, procedureType string) (*costbreakdown.PlanContext, error) {
	member, employer, err := s.ActivePlan(ctx, memberID, at)
	if err != nil {
		return nil, err
	}
	limits, sharing := LimitsFor(employer, member, procedureType)
	ytd, err := s.YTDSpend(ctx, member, at.Year(), spendTypesFor(employer, procedureType)...)
	if err != nil {
		return nil, err
	}
	return &costbreakdown.PlanContext{
		MemberHealthPlanID: member.ID,
		Limits:             limits,
		YTD:                ytd,
		Sharing:            sharing,
	}, nil
}

func validateSpend(rec *YTDSpend) error {
	if rec.PolicyID == "" {
		return invalid("policy_id is required")
	}
	if rec.MemberID == uuid.Nil {
		return invalid("member_id is required")
	}
	if rec.Year < 2000 || rec.Year > 2100 {
		return invalid("invalid year: %d", rec.Year)
	}
	if !validSources[rec.Source] {
		return invalid("invalid source: %q", rec.Source)
	}
	if !validSpendTypes[rec.Type] {
		return invalid("invalid spend type: %q", rec.Type)
	}
	return nil
}

// UpsertYTDSpend stores a year-to-date total reported by a payer or ops.
func (s *Service) UpsertYTDSpend(ctx context.Context, rec *YTDSpend) error {
	if err := validateSpend(rec); err != nil {
		return err
	}
	if rec.DeductibleApplied < 0 || rec.OOPApplied < 0 {
		return invalid("applied amounts must not be negative")
	}
	return s.ytd.Upsert(ctx, rec)
}

// RecordSpend adds what this platform applied toward the member's limits.
// Reversals pass negative amounts.
func (s *Service) RecordSpend(ctx context.Context, memberID uuid.UUID, at time.Time, procedureType string, deductible, oop int64) error {
	plan, err := s.GetActivePlan(ctx, memberID, at)
	if err != nil {
		return err
	}
	rec := &YTDSpend{
		PolicyID:          plan.SubscriberInsuranceID,
		MemberID:          memberID,
		Year:              at.Year(),
		Source:            SourceMaven,
		Type:              SpendTypeFor(procedureType),
		DeductibleApplied: deductible,
		OOPApplied:        oop,
	}
	if err := validateSpend(rec); err != nil {
		return err
	}
	return s.ytd.Increment(ctx, rec)
}

// MemberYTD returns the raw records and the aggregated totals for a member plan.
func (s *Service) MemberYTD(ctx context.Context, planID uuid.UUID, year int, spendType string) ([]*YTDSpend, costbreakdown.YearToDateSpend, error) {
	plan, err := s.members.GetByID(ctx, planID)
	if err != nil {
		return nil, costbreakdown.YearToDateSpend{}, err
	}
	records, err := s.ytd.ListByPolicy(ctx, plan.SubscriberInsuranceID, year)
	if err != nil {
		return nil, costbreakdown.YearToDateSpend{}, err
	}
	var types []string
	if spendType != "" {
		types = []string{spendType}
	}
	return records, aggregateYTD(records, plan.MemberID, types), nil
}
