package healthplan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
	"github.com/memberhealth/benefits/internal/platform/db"
)

// -- Mock Repositories --

type mockEmployerRepo struct {
	items map[uuid.UUID]*EmployerHealthPlan
}

func (m *mockEmployerRepo) Create(_ context.Context, p *EmployerHealthPlan) error {
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	m.items[p.ID] = p
	return nil
}

func (m *mockEmployerRepo) GetByID(_ context.Context, id uuid.UUID) (*EmployerHealthPlan, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *mockEmployerRepo) Update(_ context.Context, p *EmployerHealthPlan) error {
	if _, ok := m.items[p.ID]; !ok {
		return db.ErrNotFound
	}
	m.items[p.ID] = p
	return nil
}

func (m *mockEmployerRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockEmployerRepo) List(_ context.Context, limit, offset int) ([]*EmployerHealthPlan, int, error) {
	var out []*EmployerHealthPlan
	for _, p := range m.items {
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockMemberRepo struct {
	items map[uuid.UUID]*MemberHealthPlan
}

func (m *mockMemberRepo) Create(_ context.Context, p *MemberHealthPlan) error {
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	m.items[p.ID] = p
	return nil
}

func (m *mockMemberRepo) GetByID(_ context.Context, id uuid.UUID) (*MemberHealthPlan, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *mockMemberRepo) Update(_ context.Context, p *MemberHealthPlan) error {
	m.items[p.ID] = p
	return nil
}

func (m *mockMemberRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockMemberRepo) ListByMember(_ context.Context, memberID uuid.UUID) ([]*MemberHealthPlan, error) {
	var out []*MemberHealthPlan
	for _, p := range m.items {
		if p.MemberID == memberID {
			out = append(out, p)
		}
	}
	return out, nil
}

type ytdKey struct {
	policy   string
	member   uuid.UUID
	year     int
	source   string
	spendTyp string
}

type mockYTDRepo struct {
	items map[ytdKey]*YTDSpend
}

func keyOf(s *YTDSpend) ytdKey {
	return ytdKey{s.PolicyID, s.MemberID, s.Year, s.Source, s.Type}
}

func (m *mockYTDRepo) ListByPolicy(_ context.Context, policyID string, year int) ([]*YTDSpend, error) {
	var out []*YTDSpend
	for k, s := range m.items {
		if k.policy == policyID && k.year == year {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockYTDRepo) Upsert(_ context.Context, s *YTDSpend) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.items[keyOf(s)] = &cp
	return nil
}

func (m *mockYTDRepo) Increment(_ context.Context, s *YTDSpend) error {
	if cur, ok := m.items[keyOf(s)]; ok {
		cur.DeductibleApplied += s.DeductibleApplied
		cur.OOPApplied += s.OOPApplied
		*s = *cur
		return nil
	}
	return m.Upsert(context.Background(), s)
}

type testDeps struct {
	svc       *Service
	employers *mockEmployerRepo
	members   *mockMemberRepo
	ytd       *mockYTDRepo
}

func newTestDeps() *testDeps {
	d := &testDeps{
		employers: &mockEmployerRepo{items: make(map[uuid.UUID]*EmployerHealthPlan)},
		members:   &mockMemberRepo{items: make(map[uuid.UUID]*MemberHealthPlan)},
		ytd:       &mockYTDRepo{items: make(map[ytdKey]*YTDSpend)},
	}
	d.svc = NewService(d.employers, d.members, d.ytd)
	return d
}

func newTestService() *Service {
	return newTestDeps().svc
}

func validEmployerPlan() *EmployerHealthPlan {
	return &EmployerHealthPlan{
		Name:                 "Acme HDHP",
		OrganizationID:       uuid.New(),
		Payer:                "cigna",
		IndividualDeductible: 150000,
		IndividualOOPMax:     400000,
		FamilyDeductible:     300000,
		FamilyOOPMax:         800000,
		IsDeductibleEmbedded: true,
		IsOOPEmbedded:        true,
		RxIntegrated:         true,
		MedicalSharing:       costbreakdown.CostSharing{Type: costbreakdown.SharingCoinsurance, CoinsuranceRate: 0.2},
		PharmacySharing:      costbreakdown.CostSharing{Type: costbreakdown.SharingCopay, Copay: 1000},
		StartDate:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:              time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (d *testDeps) enroll(t *testing.T, employerID, memberID uuid.UUID, policy string, planType costbreakdown.CoverageType) *MemberHealthPlan {
	t.Helper()
	p := &MemberHealthPlan{
		MemberID:              memberID,
		EmployerHealthPlanID:  employerID,
		SubscriberInsuranceID: policy,
		PatientFirstName:      "Alex",
		PatientLastName:       "Rivera",
		PatientDOB:            time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC),
		IsSubscriber:          true,
		PlanType:              planType,
		PlanStartAt:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := d.svc.CreateMemberPlan(context.Background(), p); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return p
}

// -- Employer plan tests --

func TestService_CreateEmployerPlan(t *testing.T) {
	svc := newTestService()
	p := validEmployerPlan()
	if err := svc.CreateEmployerPlan(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
}

func TestService_CreateEmployerPlan_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *EmployerHealthPlan)
	}{
		{"missing name", func(p *EmployerHealthPlan) { p.Name = "" }},
		{"unknown payer", func(p *EmployerHealthPlan) { p.Payer = "acme-insurance" }},
		{"negative deductible", func(p *EmployerHealthPlan) { p.IndividualDeductible = -1 }},
		{"individual above family", func(p *EmployerHealthPlan) { p.IndividualDeductible = 350000 }},
		{"deductible above oop", func(p *EmployerHealthPlan) { p.IndividualDeductible = 300000; p.IndividualOOPMax = 200000 }},
		{"bad medical sharing", func(p *EmployerHealthPlan) { p.MedicalSharing.CoinsuranceRate = 1.2 }},
		{"bad pharmacy sharing", func(p *EmployerHealthPlan) { p.PharmacySharing.Type = "" }},
		{"dates reversed", func(p *EmployerHealthPlan) { p.EndDate = p.StartDate.AddDate(0, 0, -1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService()
			p := validEmployerPlan()
			tt.mutate(p)
			err := svc.CreateEmployerPlan(context.Background(), p)
			if !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
}

// -- Member plan tests --

func TestService_CreateMemberPlan_DefaultsSubscriber(t *testing.T) {
	d := newTestDeps()
	emp := validEmployerPlan()
	d.svc.CreateEmployerPlan(context.Background(), emp)

	p := d.enroll(t, emp.ID, uuid.New(), "POL-1", costbreakdown.CoverageIndividual)
	if p.SubscriberFirstName != "Alex" || !p.SubscriberDOB.Equal(p.PatientDOB) {
		t.Errorf("expected subscriber details copied from patient, got %+v", p)
	}
	if p.PatientSex != "unknown" {
		t.Errorf("expected default sex unknown, got %q", p.PatientSex)
	}
}

func TestService_CreateMemberPlan_UnknownEmployerPlan(t *testing.T) {
	d := newTestDeps()
	p := &MemberHealthPlan{
		MemberID: uuid.New(), EmployerHealthPlanID: uuid.New(), SubscriberInsuranceID: "X",
		PatientFirstName: "A", PatientLastName: "B", PatientDOB: time.Now().AddDate(-30, 0, 0),
		PlanType: costbreakdown.CoverageIndividual, PlanStartAt: time.Now(),
	}
	err := d.svc.CreateMemberPlan(context.Background(), p)
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_CreateMemberPlan_Overlap(t *testing.T) {
	d := newTestDeps()
	emp := validEmployerPlan()
	d.svc.CreateEmployerPlan(context.Background(), emp)
	memberID := uuid.New()
	first := d.enroll(t, emp.ID, memberID, "POL-1", costbreakdown.CoverageIndividual)
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	first.PlanEndAt = &end

	tests := []struct {
		name    string
		start   time.Time
		end     *time.Time
		wantErr bool
	}{
		{"starts inside", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), nil, true},
		{"starts at end", end, nil, false},
		{"ends before start", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), &first.PlanStartAt, false},
		{"open ended before", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &MemberHealthPlan{
				MemberID: memberID, EmployerHealthPlanID: emp.ID, SubscriberInsuranceID: "POL-1",
				PatientFirstName: "Alex", PatientLastName: "Rivera", PatientDOB: time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC),
				PlanType: costbreakdown.CoverageIndividual, PlanStartAt: tt.start, PlanEndAt: tt.end,
			}
			err := d.svc.validateMemberPlan(context.Background(), p)
			if tt.wantErr && !errors.Is(err, ErrOverlappingPlan) {
				t.Errorf("expected ErrOverlappingPlan, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestService_CreateMemberPlan_Validation(t *testing.T) {
	d := newTestDeps()
	emp := validEmployerPlan()
	d.svc.CreateEmployerPlan(context.Background(), emp)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, -1, 0)

	tests := []struct {
		name   string
		mutate func(p *MemberHealthPlan)
	}{
		{"missing member", func(p *MemberHealthPlan) { p.MemberID = uuid.Nil }},
		{"missing subscriber id", func(p *MemberHealthPlan) { p.SubscriberInsuranceID = "" }},
		{"bad plan type", func(p *MemberHealthPlan) { p.PlanType = "couple" }},
		{"end before start", func(p *MemberHealthPlan) { p.PlanEndAt = &before }},
		{"missing dob", func(p *MemberHealthPlan) { p.PatientDOB = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &MemberHealthPlan{
				MemberID: uuid.New(), EmployerHealthPlanID: emp.ID, SubscriberInsuranceID: "POL-9",
				PatientFirstName: "Sam", PatientLastName: "Lee", PatientDOB: time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC),
				PlanType: costbreakdown.CoverageFamily, PlanStartAt: start,
			}
			tt.mutate(p)
			if err := d.svc.CreateMemberPlan(context.Background(), p); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
}

func TestService_GetActivePlan(t *testing.T) {
	d := newTestDeps()
	emp := validEmployerPlan()
	d.svc.CreateEmployerPlan(context.Background(), emp)
	memberID := uuid.New()
	p := d.enroll(t, emp.ID, memberID, "POL-1", costbreakdown.CoverageIndividual)

	got, err := d.svc.GetActivePlan(context.Background(), memberID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("expected plan %s, got %s", p.ID, got.ID)
	}

	_, err = d.svc.GetActivePlan(context.Background(), memberID, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, costbreakdown.ErrNoHealthPlan) {
		t.Errorf("expected ErrNoHealthPlan, got %v", err)
	}
}

// -- Limits and YTD --

func TestLimitsFor(t *testing.T) {
	emp := validEmployerPlan()
	emp.RxIndividualDeductible = 50000
	emp.RxIndividualOOPMax = 100000
	member := &MemberHealthPlan{PlanType: costbreakdown.CoverageFamily}

	limits, sharing := LimitsFor(emp, member, "medical")
	if limits.IndividualDeductible != 150000 || sharing.Type != costbreakdown.SharingCoinsurance {
		t.Errorf("medical: %+v %+v", limits, sharing)
	}
	if limits.CoverageType != costbreakdown.CoverageFamily {
		t.Errorf("coverage type = %q", limits.CoverageType)
	}

	limits, sharing = LimitsFor(emp, member, "pharmacy")
	if limits.IndividualDeductible != 150000 || sharing.Type != costbreakdown.SharingCopay {
		t.Errorf("integrated pharmacy: %+v %+v", limits, sharing)
	}

	emp.RxIntegrated = false
	limits, _ = LimitsFor(emp, member, "pharmacy")
	if limits.IndividualDeductible != 50000 || limits.IndividualOOPMax != 100000 {
		t.Errorf("separate rx: %+v", limits)
	}
}

func TestService_YTDSpend_FamilyAggregation(t *testing.T) {
	d := newTestDeps()
	emp := validEmployerPlan()
	d.svc.CreateEmployerPlan(context.Background(), emp)
	subscriber := uuid.New()
	dependent := uuid.New()
	plan := d.enroll(t, emp.ID, subscriber, "POL-7", costbreakdown.CoverageFamily)

	ctx := context.Background()
	d.svc.UpsertYTDSpend(ctx, &YTDSpend{PolicyID: "POL-7", MemberID: subscriber, Year: 2026, Source: SourcePayerFile, Type: SpendMedical, DeductibleApplied: 20000, OOPApplied: 30000})
	d.svc.UpsertYTDSpend(ctx, &YTDSpend{PolicyID: "POL-7", MemberID: dependent, Year: 2026, Source: SourcePayerFile, Type: SpendMedical, DeductibleApplied: 50000, OOPApplied: 50000})
	d.svc.UpsertYTDSpend(ctx, &YTDSpend{PolicyID: "POL-7", MemberID: subscriber, Year: 2026, Source: SourceMaven, Type: SpendMedical, DeductibleApplied: 10000, OOPApplied: 10000})
	d.svc.UpsertYTDSpend(ctx, &YTDSpend{PolicyID: "POL-7", MemberID: subscriber, Year: 2026, Source: SourceMaven, Type: SpendRx, DeductibleApplied: 5000, OOPApplied: 5000})
	d.svc.UpsertYTDSpend(ctx, &YTDSpend{PolicyID: "POL-7", MemberID: subscriber, Year: 2025, Source: SourceMaven, Type: SpendMedical, DeductibleApplied: 99999, OOPApplied: 99999})
	d.svc.UpsertYTDSpend(ctx, &YTDSpend{PolicyID: "OTHER", MemberID: dependent, Year: 2026, Source: SourceMaven, Type: SpendMedical, DeductibleApplied: 77777, OOPApplied: 77777})

	got, err := d.svc.YTDSpend(ctx, plan, 2026, SpendMedical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := costbreakdown.YearToDateSpend{
		IndividualDeductible: 30000, IndividualOOP: 40000,
		FamilyDeductible: 80000, FamilyOOP: 90000,
	}
	if got != want {
		t.Errorf("medical ytd = %+v, want %+v", got, want)
	}

	got, _ = d.svc.YTDSpend(ctx, plan, 2026, SpendMedical, SpendRx)
	if got.IndividualDeductible != 35000 || got.FamilyOOP != 95000 {
		t.Errorf("pooled ytd = %+v", got)
	}
}

func TestAggregateYTD_SourcesAddUp(t *testing.T) {
	member, spouse := uuid.New(), uuid.New()
	rec := func(id uuid.UUID, source, typ string, ded, oop int64) *YTDSpend {
		return &YTDSpend{MemberID: id, Source: source, Type: typ, DeductibleApplied: ded, OOPApplied: oop}
	}
	records := []*YTDSpend{
		rec(member, SourceMaven, SpendMedical, 10000, 12000),
		rec(member, SourcePayerFile, SpendMedical, 25000, 25000),
		rec(spouse, SourcePayerFile, SpendMedical, 7000, 7000),
		rec(member, SourcePayerFile, SpendRx, 3000, 3000),
	}

	got := aggregateYTD(records, member, []string{SpendMedical})
	want := costbreakdown.YearToDateSpend{
		IndividualDeductible: 35000, IndividualOOP: 37000,
		FamilyDeductible: 42000, FamilyOOP: 44000,
	}
	if got != want {
		t.Errorf("medical = %+v, want %+v", got, want)
	}

	if got := aggregateYTD(records, member, nil); got.IndividualDeductible != 38000 || got.FamilyOOP != 47000 {
		t.Errorf("all types = %+v", got)
	}
	if got := aggregateYTD(nil, member, nil); got != (costbreakdown.YearToDateSpend{}) {
		t.Errorf("empty = %+v", got)
	}
}

func TestService_PlanContext(t *testing.T) {
	d := newTestDeps()
	emp := validEmployerPlan()
	d.svc.CreateEmployerPlan(context.Background(), emp)
	memberID := uuid.New()
	plan := d.enroll(t, emp.ID, memberID, "POL-3", costbreakdown.CoverageIndividual)
	d.svc.UpsertYTDSpend(context.Background(), &YTDSpend{PolicyID: "POL-3", MemberID: memberID, Year: 2026, Source: SourcePayerFile, Type: SpendMedical, DeductibleApplied: 40000})

	pc, err := d.svc.PlanContext(context.Background(), memberID, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "medical")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.MemberHealthPlanID != plan.ID {
		t.Errorf("expected plan %s, got %s", plan.ID, pc.MemberHealthPlanID)
	}
	if pc.YTD.IndividualDeductible != 40000 {
		t.Errorf("ytd = %+v", pc.YTD)
	}
	if pc.Limits.CoverageType != costbreakdown.CoverageIndividual {
		t.Errorf("coverage = %q", pc.Limits.CoverageType)
	}

	_, err = d.svc.PlanContext(context.Background(), uuid.New(), time.Now(), "medical")
	if !errors.Is(err, costbreakdown.ErrNoHealthPlan) {
		t.Errorf("expected ErrNoHealthPlan, got %v", err)
	}
}

func TestService_RecordSpend(t *testing.T) {
	d := newTestDeps()
	emp := validEmployerPlan()
	d.svc.CreateEmployerPlan(context.Background(), emp)
	memberID := uuid.New()
	plan := d.enroll(t, emp.ID, memberID, "POL-5", costbreakdown.CoverageIndividual)
	at := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	ctx := context.Background()
	if err := d.svc.RecordSpend(ctx, memberID, at, "medical", 10000, 12000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.svc.RecordSpend(ctx, memberID, at, "medical", 5000, 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.svc.RecordSpend(ctx, memberID, at, "medical", -2000, -2000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := d.svc.YTDSpend(ctx, plan, 2026, SpendMedical)
	if got.IndividualDeductible != 13000 || got.IndividualOOP != 15000 {
		t.Errorf("ytd = %+v", got)
	}
}

func TestService_UpsertYTDSpend_Validation(t *testing.T) {
	svc := newTestService()
	tests := []struct {
		name string
		rec  YTDSpend
	}{
		{"missing policy", YTDSpend{MemberID: uuid.New(), Year: 2026, Source: SourceMaven, Type: SpendMedical}},
		{"bad source", YTDSpend{PolicyID: "P", MemberID: uuid.New(), Year: 2026, Source: "fax", Type: SpendMedical}},
		{"bad type", YTDSpend{PolicyID: "P", MemberID: uuid.New(), Year: 2026, Source: SourceMaven, Type: "dental"}},
		{"bad year", YTDSpend{PolicyID: "P", MemberID: uuid.New(), Year: 26, Source: SourceMaven, Type: SpendMedical}},
		{"negative", YTDSpend{PolicyID: "P", MemberID: uuid.New(), Year: 2026, Source: SourceMaven, Type: SpendMedical, OOPApplied: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			if err := svc.UpsertYTDSpend(context.Background(), &rec); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
}
