package careadvocate

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/internal/platform/notification"
)

// -- Mocks --

type mockAdvocateRepo struct {
	items map[uuid.UUID]*Advocate
}

func newMockAdvocateRepo() *mockAdvocateRepo {
	return &mockAdvocateRepo{items: make(map[uuid.UUID]*Advocate)}
}

func (m *mockAdvocateRepo) Create(_ context.Context, a *Advocate) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	m.items[a.ID] = a
	return nil
}

func (m *mockAdvocateRepo) GetByID(_ context.Context, id uuid.UUID) (*Advocate, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return a, nil
}

func (m *mockAdvocateRepo) Update(_ context.Context, a *Advocate) error {
	if _, ok := m.items[a.ID]; !ok {
		return db.ErrNotFound
	}
	m.items[a.ID] = a
	return nil
}

func (m *mockAdvocateRepo) sorted() []*Advocate {
	var out []*Advocate
	for _, a := range m.items {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *mockAdvocateRepo) List(_ context.Context, limit, offset int) ([]*Advocate, int, error) {
	out := m.sorted()
	return out, len(out), nil
}

func (m *mockAdvocateRepo) ListForMatching(_ context.Context) ([]*Advocate, error) {
	return m.sorted(), nil
}

func (m *mockAdvocateRepo) CreateRuleSet(_ context.Context, rs *RuleSet) error {
	a, ok := m.items[rs.AdvocateID]
	if !ok {
		return db.ErrNotFound
	}
	rs.ID = uuid.New()
	a.RuleSets = append(a.RuleSets, rs)
	return nil
}

func (m *mockAdvocateRepo) DeleteRuleSet(_ context.Context, advocateID, id uuid.UUID) error {
	a, ok := m.items[advocateID]
	if !ok {
		return db.ErrNotFound
	}
	for i, rs := range a.RuleSets {
		if rs.ID == id {
			a.RuleSets = append(a.RuleSets[:i], a.RuleSets[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

type mockAssignmentRepo struct {
	items map[uuid.UUID]*Assignment
}

func newMockAssignmentRepo() *mockAssignmentRepo {
	return &mockAssignmentRepo{items: make(map[uuid.UUID]*Assignment)}
}

func (m *mockAssignmentRepo) Get(_ context.Context, memberID uuid.UUID) (*Assignment, error) {
	a, ok := m.items[memberID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAssignmentRepo) Upsert(_ context.Context, a *Assignment) error {
	cp := *a
	m.items[a.MemberID] = &cp
	return nil
}

func (m *mockAssignmentRepo) Loads(_ context.Context, dayStart time.Time) (map[uuid.UUID]Load, error) {
	out := map[uuid.UUID]Load{}
	for _, a := range m.items {
		l := out[a.AdvocateID]
		l.TotalMembers++
		if a.Source != AssignmentTransition && !a.AssignedAt.Before(dayStart) {
			l.AssignedToday++
		}
		out[a.AdvocateID] = l
	}
	return out, nil
}

type mockLogRepo struct {
	items map[uuid.UUID]*TransitionLog
}

func newMockLogRepo() *mockLogRepo {
	return &mockLogRepo{items: make(map[uuid.UUID]*TransitionLog)}
}

func (m *mockLogRepo) Create(_ context.Context, l *TransitionLog) error {
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	m.items[l.ID] = l
	return nil
}

func (m *mockLogRepo) GetByID(_ context.Context, id uuid.UUID) (*TransitionLog, error) {
	l, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return l, nil
}

func (m *mockLogRepo) Delete(_ context.Context, id uuid.UUID) error {
	l, ok := m.items[id]
	if !ok || l.Completed() {
		return db.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockLogRepo) List(_ context.Context, limit, offset int) ([]*TransitionLog, int, error) {
	var out []*TransitionLog
	for _, l := range m.items {
		out = append(out, l)
	}
	return out, len(out), nil
}

func (m *mockLogRepo) ListDue(_ context.Context, at time.Time) ([]*TransitionLog, error) {
	var out []*TransitionLog
	for _, l := range m.items {
		if !l.Completed() && !l.DateScheduled.After(at) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateScheduled.Before(out[j].DateScheduled) })
	return out, nil
}

func (m *mockLogRepo) MarkCompleted(_ context.Context, id uuid.UUID, at time.Time) error {
	l, ok := m.items[id]
	if !ok || l.Completed() {
		return db.ErrNotFound
	}
	l.DateCompleted = &at
	return nil
}

type mockNotifier struct {
	events []notification.Event
}

func (m *mockNotifier) Notify(_ context.Context, ev notification.Event) (*notification.Notification, error) {
	m.events = append(m.events, ev)
	return &notification.Notification{}, nil
}

// -- Helpers --

var testNow = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

type testDeps struct {
	svc         *Service
	advocates   *mockAdvocateRepo
	assignments *mockAssignmentRepo
	logs        *mockLogRepo
	notifier    *mockNotifier
}

func newTestDeps() *testDeps {
	d := &testDeps{
		advocates:   newMockAdvocateRepo(),
		assignments: newMockAssignmentRepo(),
		logs:        newMockLogRepo(),
		notifier:    &mockNotifier{},
	}
	d.svc = NewService(d.advocates, d.assignments, d.logs, d.notifier, zerolog.Nop())
	d.svc.now = func() time.Time { return testNow }
	return d
}

// addAdvocate creates an advocate accepting US fertility members of any organization.
func (d *testDeps) addAdvocate(t *testing.T, name string, introCap int) *Advocate {
	t.Helper()
	a := &Advocate{Name: name, DailyIntroCapacity: introCap}
	if err := d.svc.CreateAdvocate(context.Background(), a); err != nil {
		t.Fatalf("create advocate: %v", err)
	}
	rs := &RuleSet{Rules: []MatchingRule{
		include(EntityCountry, "US"), includeAll(EntityOrganization), include(EntityTrack, "fertility"),
	}}
	if err := d.svc.AddRuleSet(context.Background(), a.ID, rs); err != nil {
		t.Fatalf("add rule set: %v", err)
	}
	return a
}

func (d *testDeps) assign(memberID, advocateID uuid.UUID, at time.Time) {
	d.assignments.items[memberID] = &Assignment{MemberID: memberID, AdvocateID: advocateID, AssignedAt: at}
}

func fertilityMember() MemberProfile {
	return MemberProfile{MemberID: uuid.New(), Country: "US", OrganizationID: uuid.New(), Tracks: []string{"fertility"}}
}

// -- Advocates --

func TestCreateAdvocate_Validation(t *testing.T) {
	start := testNow
	end := testNow.Add(-time.Hour)
	tests := []struct {
		name string
		a    Advocate
	}{
		{"missing name", Advocate{DailyIntroCapacity: 1}},
		{"negative capacity", Advocate{Name: "A", MaxCapacity: -1}},
		{"vacation ends before start", Advocate{Name: "A", VacationStartedAt: &start, VacationEndedAt: &end}},
		{"vacation end only", Advocate{Name: "A", VacationEndedAt: &end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps()
			a := tt.a
			if err := d.svc.CreateAdvocate(context.Background(), &a); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAddRuleSet(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	a := d.addAdvocate(t, "Avery", 3)

	bad := &RuleSet{Rules: []MatchingRule{exclude(EntityTrack, "fertility")}}
	if err := d.svc.AddRuleSet(ctx, a.ID, bad); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if err := d.svc.AddRuleSet(ctx, uuid.New(), &RuleSet{}); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(a.RuleSets) != 1 {
		t.Fatalf("expected 1 rule set, got %d", len(a.RuleSets))
	}
	if err := d.svc.DeleteRuleSet(ctx, a.ID, a.RuleSets[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(a.RuleSets) != 0 {
		t.Error("rule set not deleted")
	}
}

// -- Assignment --

func TestAssignAdvocate_PicksLeastLoaded(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	busy := d.addAdvocate(t, "Busy", 4)
	quiet := d.addAdvocate(t, "Quiet", 4)
	d.addAdvocate(t, "Other track", 4).RuleSets[0].Rules[2] = include(EntityTrack, "menopause")

	for i := 0; i < 2; i++ {
		d.assign(uuid.New(), busy.ID, testNow.Add(-time.Hour))
	}
	d.assign(uuid.New(), quiet.ID, testNow.AddDate(0, 0, -3))

	p := fertilityMember()
	a, err := d.svc.AssignAdvocate(ctx, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AdvocateID != quiet.ID || !a.AssignedAt.Equal(testNow) {
		t.Errorf("expected quiet advocate, got %+v", a)
	}
	if got, _ := d.svc.GetAssignment(ctx, p.MemberID); got.AdvocateID != quiet.ID {
		t.Error("assignment not stored")
	}
	if len(d.notifier.events) != 1 || d.notifier.events[0].Type != notification.EventCareAdvocateAssigned ||
		d.notifier.events[0].MemberID != p.MemberID {
		t.Errorf("unexpected events: %+v", d.notifier.events)
	}
}

func TestAssignAdvocate_NoneAvailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(d *testDeps)
	}{
		{"no advocates", func(d *testDeps) {}},
		{"no match", func(d *testDeps) {
			d.advocates.items[uuid.New()] = &Advocate{Name: "No rules", DailyIntroCapacity: 5}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps()
			tt.setup(d)
			if _, err := d.svc.AssignAdvocate(context.Background(), fertilityMember()); !errors.Is(err, ErrNoAdvocateAvailable) {
				t.Errorf("expected ErrNoAdvocateAvailable, got %v", err)
			}
		})
	}

	t.Run("daily capacity used", func(t *testing.T) {
		d := newTestDeps()
		a := d.addAdvocate(t, "Full", 1)
		d.assign(uuid.New(), a.ID, testNow.Add(-time.Minute))
		if _, err := d.svc.AssignAdvocate(context.Background(), fertilityMember()); !errors.Is(err, ErrNoAdvocateAvailable) {
			t.Errorf("expected ErrNoAdvocateAvailable, got %v", err)
		}
	})

	t.Run("on vacation", func(t *testing.T) {
		d := newTestDeps()
		a := d.addAdvocate(t, "Away", 5)
		start := testNow.AddDate(0, 0, -1)
		a.VacationStartedAt = &start
		if _, err := d.svc.AssignAdvocate(context.Background(), fertilityMember()); !errors.Is(err, ErrNoAdvocateAvailable) {
			t.Errorf("expected ErrNoAdvocateAvailable, got %v", err)
		}
	})
}

func TestAssignAdvocate_RequiresMember(t *testing.T) {
	d := newTestDeps()
	if _, err := d.svc.AssignAdvocate(context.Background(), MemberProfile{}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// -- Transition logs --

func TestCreateTransitionLog_Validation(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	from := d.addAdvocate(t, "From", 5)
	to := d.addAdvocate(t, "To", 5)
	assigned, unassigned, elsewhere := uuid.New(), uuid.New(), uuid.New()
	d.assign(assigned, from.ID, testNow)
	d.assign(elsewhere, to.ID, testNow)
	missing := uuid.New()

	content := csvHeader +
		csvRow(assigned, from.ID, missing, "") +
		csvRow(unassigned, from.ID, to.ID, "") +
		csvRow(elsewhere, from.ID, to.ID, "")

	_, err := d.svc.CreateTransitionLog(ctx, uuid.New(), "moves.csv", content, nil)
	var verr *TransitionLogError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *TransitionLogError, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 errors, got %v", verr.Errors)
	}
	if len(d.logs.items) != 0 {
		t.Error("invalid upload should not be stored")
	}

	past := testNow.Add(-time.Minute)
	_, err = d.svc.CreateTransitionLog(ctx, uuid.New(), "moves.csv", csvHeader+csvRow(assigned, from.ID, to.ID, ""), &past)
	if !errors.As(err, &verr) {
		t.Errorf("scheduling in the past: expected *TransitionLogError, got %v", err)
	}
}

func TestCreateTransitionLog_Immediate(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	from := d.addAdvocate(t, "From", 5)
	to := d.addAdvocate(t, "To", 5)
	member := uuid.New()
	d.assign(member, from.ID, testNow.AddDate(0, -1, 0))

	l, err := d.svc.CreateTransitionLog(ctx, uuid.New(), "moves.csv", csvHeader+csvRow(member, from.ID, to.ID, "Say hi"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Completed() || !l.DateScheduled.Equal(testNow) {
		t.Errorf("expected completed log, got %+v", l)
	}
	if got := d.assignments.items[member]; got.AdvocateID != to.ID {
		t.Errorf("member not moved: %+v", got)
	}
	if len(d.notifier.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(d.notifier.events))
	}
	ev := d.notifier.events[0]
	if ev.Type != notification.EventCareAdvocateTransition || ev.Data["messaging_template"] != "Say hi" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestExecuteDueTransitions(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	from := d.addAdvocate(t, "From", 5)
	to := d.addAdvocate(t, "To", 5)
	m1, m2 := uuid.New(), uuid.New()
	d.assign(m1, from.ID, testNow.AddDate(0, -1, 0))
	d.assign(m2, from.ID, testNow.AddDate(0, -1, 0))

	soon := testNow.Add(time.Hour)
	l, err := d.svc.CreateTransitionLog(ctx, uuid.New(), "moves.csv",
		csvHeader+csvRow(m1, from.ID, to.ID, "")+csvRow(m2, from.ID, to.ID, ""), &soon)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	later := testNow.AddDate(0, 0, 2)
	pending, err := d.svc.CreateTransitionLog(ctx, uuid.New(), "later.csv", csvHeader+csvRow(m1, from.ID, to.ID, ""), &later)
	if err != nil {
		t.Fatal(err)
	}

	if n, err := d.svc.ExecuteDueTransitions(ctx); err != nil || n != 0 {
		t.Fatalf("nothing due yet: %d %v", n, err)
	}

	// m2 moved by hand before the log ran
	d.assign(m2, uuid.New(), testNow)
	d.svc.now = func() time.Time { return soon }

	n, err := d.svc.ExecuteDueTransitions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 executed log, got %d %v", n, err)
	}
	if !l.Completed() || pending.Completed() {
		t.Errorf("completion: due %v, pending %v", l.Completed(), pending.Completed())
	}
	if d.assignments.items[m1].AdvocateID != to.ID {
		t.Error("m1 not moved")
	}
	if d.assignments.items[m2].AdvocateID == to.ID {
		t.Error("m2 should be skipped")
	}
	if len(d.notifier.events) != 1 || d.notifier.events[0].MemberID != m1 {
		t.Errorf("unexpected events: %+v", d.notifier.events)
	}
}

func TestExecuteTransitions_DoNotUseIntroCapacity(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	from := d.addAdvocate(t, "From", 0)
	to := d.addAdvocate(t, "To", 1)

	member := uuid.New()
	d.assign(member, from.ID, testNow.AddDate(0, -1, 0))
	if _, err := d.svc.CreateTransitionLog(ctx, uuid.New(), "moves.csv", csvHeader+csvRow(member, from.ID, to.ID, ""), nil); err != nil {
		t.Fatal(err)
	}
	if got := d.assignments.items[member]; got.Source != AssignmentTransition {
		t.Errorf("expected transition source, got %q", got.Source)
	}

	// the transition leaves To's single intro slot open
	a, err := d.svc.AssignAdvocate(ctx, fertilityMember())
	if err != nil {
		t.Fatalf("expected an intro slot, got %v", err)
	}
	if a.AdvocateID != to.ID || a.Source != AssignmentMatched {
		t.Errorf("unexpected assignment %+v", a)
	}
	if _, err := d.svc.AssignAdvocate(ctx, fertilityMember()); !errors.Is(err, ErrNoAdvocateAvailable) {
		t.Errorf("second intro should exceed capacity, got %v", err)
	}
}

func TestDeleteTransitionLog(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	from := d.addAdvocate(t, "From", 5)
	to := d.addAdvocate(t, "To", 5)
	member := uuid.New()
	d.assign(member, from.ID, testNow)
	content := csvHeader + csvRow(member, from.ID, to.ID, "")

	soon := testNow.Add(time.Hour)
	scheduled, err := d.svc.CreateTransitionLog(ctx, uuid.New(), "a.csv", content, &soon)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.svc.DeleteTransitionLog(ctx, scheduled.ID); err != nil {
		t.Errorf("delete scheduled: %v", err)
	}

	done, err := d.svc.CreateTransitionLog(ctx, uuid.New(), "b.csv", content, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.svc.DeleteTransitionLog(ctx, done.ID); !errors.Is(err, ErrLogCompleted) {
		t.Errorf("expected ErrLogCompleted, got %v", err)
	}
	if err := d.svc.DeleteTransitionLog(ctx, uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
