package careadvocate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/internal/platform/notification"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNoAdvocateAvailable = errors.New("no care advocate available")
	ErrLogCompleted        = errors.New("transition log already completed")
)

// Notifier delivers member events.
type Notifier interface {
	Notify(ctx context.Context, ev notification.Event) (*notification.Notification, error)
}

type Service struct {
	advocates   AdvocateRepository
	assignments AssignmentRepository
	logs        TransitionLogRepository
	matcher     Matcher
	notifier    Notifier
	tx          db.Transactor
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(a AdvocateRepository, asg AssignmentRepository, logs TransitionLogRepository, n Notifier, logger zerolog.Logger) *Service {
	return &Service{
		advocates:   a,
		assignments: asg,
		logs:        logs,
		notifier:    n,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetTransactor(tx db.Transactor) { s.tx = tx }

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

func (s *Service) notify(ctx context.Context, ev notification.Event) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", ev.Type).Str("member_id", ev.MemberID.String()).
			Msg("notify member")
	}
}

// -- Advocates --

func validateAdvocate(a *Advocate) error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if a.MaxCapacity < 0 || a.DailyIntroCapacity < 0 {
		return fmt.Errorf("%w: capacities cannot be negative", ErrValidation)
	}
	if a.VacationStartedAt != nil && a.VacationEndedAt != nil && !a.VacationEndedAt.After(*a.VacationStartedAt) {
		return fmt.Errorf("%w: vacation must end after it starts", ErrValidation)
	}
	if a.VacationStartedAt == nil && a.VacationEndedAt != nil {
		return fmt.Errorf("%w: vacation end without a start", ErrValidation)
	}
	return nil
}

func (s *Service) CreateAdvocate(ctx context.Context, a *Advocate) error {
	if err := validateAdvocate(a); err != nil {
		return err
	}
	return s.advocates.Create(ctx, a)
}

func (s *Service) GetAdvocate(ctx context.Context, id uuid.UUID) (*Advocate, error) {
	return s.advocates.GetByID(ctx, id)
}

func (s *Service) UpdateAdvocate(ctx context.Context, a *Advocate) error {
	if err := validateAdvocate(a); err != nil {
		return err
	}
	return s.advocates.Update(ctx, a)
}

func (s *Service) ListAdvocates(ctx context.Context, limit, offset int) ([]*Advocate, int, error) {
	return s.advocates.List(ctx, limit, offset)
}

func (s *Service) AddRuleSet(ctx context.Context, advocateID uuid.UUID, rs *RuleSet) error {
	if _, err := s.advocates.GetByID(ctx, advocateID); err != nil {
		return err
	}
	if err := ValidateRuleSet(rs); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	rs.AdvocateID = advocateID
	return s.advocates.CreateRuleSet(ctx, rs)
}

func (s *Service) DeleteRuleSet(ctx context.Context, advocateID, id uuid.UUID) error {
	return s.advocates.DeleteRuleSet(ctx, advocateID, id)
}

// -- Matching --

// Match lists the advocates whose rules accept the member right now.
func (s *Service) Match(ctx context.Context, p MemberProfile) ([]*Advocate, error) {
	all, err := s.advocates.ListForMatching(ctx)
	if err != nil {
		return nil, fmt.Errorf("load advocates: %w", err)
	}
	return s.matcher.Match(p, all, s.now()), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AssignAdvocate matches the member and records the least loaded advocate
// with room as their care advocate.
func (s *Service) AssignAdvocate(ctx context.Context, p MemberProfile) (*Assignment, error) {
	if p.MemberID == uuid.Nil {
		return nil, fmt.Errorf("%w: member_id is required", ErrValidation)
	}
	now := s.now()
	candidates, err := s.Match(ctx, p)
	if err != nil {
		return nil, err
	}
	loads, err := s.assignments.Loads(ctx, startOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("load advocate counts: %w", err)
	}
	chosen, ok := s.matcher.Select(candidates, loads)
	if !ok {
		s.logger.Warn().Str("member_id", p.MemberID.String()).Int("matched", len(candidates)).
			Msg("no care advocate with capacity")
		return nil, ErrNoAdvocateAvailable
	}
	a := &Assignment{MemberID: p.MemberID, AdvocateID: chosen.ID, Source: AssignmentMatched, AssignedAt: now}
	if err := s.assignments.Upsert(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().Str("member_id", p.MemberID.String()).Str("advocate_id", chosen.ID.String()).
		Msg("care advocate assigned")
	s.notify(ctx, notification.Event{
		Type:       notification.EventCareAdvocateAssigned,
		MemberID:   p.MemberID,
		TemplateID: "care-advocate-assigned",
		Data:       map[string]string{"advocate_id": chosen.ID.String(), "advocate_name": chosen.Name},
	})
	return a, nil
}

func (s *Service) GetAssignment(ctx context.Context, memberID uuid.UUID) (*Assignment, error) {
	return s.assignments.Get(ctx, memberID)
}

// -- Transition logs --

// checkTransitions verifies rows against current assignments and advocates.
func (s *Service) checkTransitions(ctx context.Context, rows []TransitionRow) error {
	verr := &TransitionLogError{}
	known := map[uuid.UUID]bool{}
	for _, row := range rows {
		cur, err := s.assignments.Get(ctx, row.MemberID)
		switch {
		case errors.Is(err, db.ErrNotFound):
			verr.add(row.Line, "member %s has no care advocate", row.MemberID)
		case err != nil:
			return err
		case cur.AdvocateID != row.OldAdvocateID:
			verr.add(row.Line, "member %s is assigned to %s, not %s", row.MemberID, cur.AdvocateID, row.OldAdvocateID)
		}
		exists, checked := known[row.NewAdvocateID]
		if !checked {
			_, err := s.advocates.GetByID(ctx, row.NewAdvocateID)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return err
			}
			exists = err == nil
			known[row.NewAdvocateID] = exists
		}
		if !exists {
			verr.add(row.Line, "advocate %s does not exist", row.NewAdvocateID)
		}
	}
	return verr.errOrNil()
}

// CreateTransitionLog validates and stores an upload. Without a scheduled
// time the transitions run right away.
func (s *Service) CreateTransitionLog(ctx context.Context, userID uuid.UUID, filename, content string, scheduled *time.Time) (*TransitionLog, error) {
	now := s.now()
	if scheduled != nil && scheduled.Before(now) {
		return nil, &TransitionLogError{Errors: []string{"transitions cannot be scheduled in the past"}}
	}
	rows, err := ParseTransitions(content)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransitions(ctx, rows); err != nil {
		return nil, err
	}
	l := &TransitionLog{
		UserID:           userID,
		DateScheduled:    now,
		UploadedFilename: filename,
		UploadedContent:  content,
	}
	if scheduled != nil {
		l.DateScheduled = *scheduled
	}
	if err := s.logs.Create(ctx, l); err != nil {
		return nil, err
	}
	s.logger.Info().Str("log_id", l.ID.String()).Int("rows", len(rows)).Time("scheduled", l.DateScheduled).
		Msg("care advocate transition log created")
	if scheduled == nil {
		if err := s.execute(ctx, l); err != nil {
			return l, err
		}
	}
	return l, nil
}

func (s *Service) GetTransitionLog(ctx context.Context, id uuid.UUID) (*TransitionLog, error) {
	return s.logs.GetByID(ctx, id)
}

func (s *Service) ListTransitionLogs(ctx context.Context, limit, offset int) ([]*TransitionLog, int, error) {
	return s.logs.List(ctx, limit, offset)
}

func (s *Service) DeleteTransitionLog(ctx context.Context, id uuid.UUID) error {
	l, err := s.logs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if l.Completed() {
		return ErrLogCompleted
	}
	return s.logs.Delete(ctx, id)
}

// ExecuteDueTransitions runs every incomplete log whose scheduled time has
// passed. A failing log does not stop the others.
func (s *Service) ExecuteDueTransitions(ctx context.Context) (int, error) {
	due, err := s.logs.ListDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list due transition logs: %w", err)
	}
	var errs []error
	done := 0
	for _, l := range due {
		if err := s.execute(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("transition log %s: %w", l.ID, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// execute reassigns the log's members. Rows whose member moved since the
// upload are skipped.
func (s *Service) execute(ctx context.Context, l *TransitionLog) error {
	rows, err := ParseTransitions(l.UploadedContent)
	if err != nil {
		return err
	}
	log := s.logger.With().Str("log_id", l.ID.String()).Logger()
	now := s.now()
	var moved []TransitionRow
	err = s.inTx(ctx, func(ctx context.Context) error {
		for _, row := range rows {
			cur, err := s.assignments.Get(ctx, row.MemberID)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return err
			}
			if cur == nil || cur.AdvocateID != row.OldAdvocateID {
				log.Warn().Str("member_id", row.MemberID.String()).Msg("member no longer with old advocate, skipping")
				continue
			}
			a := &Assignment{MemberID: row.MemberID, AdvocateID: row.NewAdvocateID, Source: AssignmentTransition, AssignedAt: now}
			if err := s.assignments.Upsert(ctx, a); err != nil {
				return fmt.Errorf("reassign member %s: %w", row.MemberID, err)
			}
			moved = append(moved, row)
		}
		return s.logs.MarkCompleted(ctx, l.ID, now)
	})
	if err != nil {
		return err
	}
	l.DateCompleted = &now
	for _, row := range moved {
		s.notify(ctx, notification.Event{
			Type:       notification.EventCareAdvocateTransition,
			MemberID:   row.MemberID,
			TemplateID: "care-advocate-transition",
			Data: map[string]string{
				"old_advocate_id":    row.OldAdvocateID.String(),
				"new_advocate_id":    row.NewAdvocateID.String(),
				"messaging_template": row.MessagingTemplate,
			},
		})
	}
	log.Info().Int("moved", len(moved)).Int("rows", len(rows)).Msg("care advocate transitions completed")
	return nil
}
