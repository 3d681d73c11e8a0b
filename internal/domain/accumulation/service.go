package accumulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
	"github.com/memberhealth/benefits/internal/domain/healthplan"
	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/internal/platform/filestore"
	"github.com/memberhealth/benefits/internal/platform/notification"
	"github.com/memberhealth/benefits/internal/platform/queue"
)

var ErrInvalidMappingState = errors.New("mapping is not in a valid state for this action")

// PlanSource is the health plan data accumulation reads and writes.
type PlanSource interface {
	ActivePlan(ctx context.Context, memberID uuid.UUID, at time.Time) (*healthplan.MemberHealthPlan, *healthplan.EmployerHealthPlan, error)
	RecordSpend(ctx context.Context, memberID uuid.UUID, at time.Time, procedureType string, deductible, oop int64) error
	UpsertYTDSpend(ctx context.Context, rec *healthplan.YTDSpend) error
}

// BreakdownSource loads persisted cost breakdowns.
type BreakdownSource interface {
	GetCostBreakdown(ctx context.Context, id uuid.UUID) (*costbreakdown.CostBreakdown, error)
}

// ProcedureSource loads the procedure a breakdown priced.
type ProcedureSource interface {
	ProcedureForCostBreakdown(ctx context.Context, id uuid.UUID) (*costbreakdown.Procedure, error)
}

// Notifier delivers ops alerts.
type Notifier interface {
	Notify(ctx context.Context, ev notification.Event) (*notification.Notification, error)
}

type txRunner struct{ tx db.Transactor }

func (t *txRunner) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.tx == nil {
		return fn(ctx)
	}
	return t.tx.InTx(ctx, fn)
}

type alerter struct {
	notifier Notifier
	to       uuid.UUID
	logger   zerolog.Logger
}

func (a *alerter) send(ctx context.Context, ev notification.Event) {
	if a.notifier == nil || a.to == uuid.Nil {
		return
	}
	ev.MemberID = a.to
	if _, err := a.notifier.Notify(ctx, ev); err != nil {
		a.logger.Error().Err(err).Str("event", ev.Type).Msg("send accumulation alert")
	}
}

type Service struct {
	mappings   MappingRepository
	reports    ReportRepository
	plans      PlanSource
	breakdowns BreakdownSource
	procedures ProcedureSource
	files      filestore.Store
	tx         *txRunner
	alerts     *alerter
	generator  *Generator
	ingestor   *Ingestor
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(m MappingRepository, r ReportRepository, plans PlanSource, files filestore.Store, transfer queue.Publisher, logger zerolog.Logger) *Service {
	s := &Service{
		mappings: m,
		reports:  r,
		plans:    plans,
		files:    files,
		tx:       &txRunner{},
		alerts:   &alerter{logger: logger},
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.generator = &Generator{
		mappings: m,
		reports:  r,
		plans:    plans,
		files:    files,
		transfer: transfer,
		tx:       s.tx,
		alerts:   s.alerts,
		logger:   logger,
		now:      func() time.Time { return s.now() },
	}
	s.ingestor = &Ingestor{mappings: m, plans: plans, logger: logger}
	return s
}

// SetSources wires the cost breakdown and procedure lookups RecordProcedure
// needs.
func (s *Service) SetSources(b BreakdownSource, p ProcedureSource) {
	s.breakdowns, s.procedures = b, p
}

// SetAlerts sends delivery failures to recipient through n.
func (s *Service) SetAlerts(n Notifier, recipient uuid.UUID) {
	s.alerts.notifier, s.alerts.to = n, recipient
}

func (s *Service) SetTransactor(tx db.Transactor) { s.tx.tx = tx }

func (s *Service) Generator() *Generator { return s.generator }
func (s *Service) Ingestor() *Ingestor   { return s.ingestor }

// RecordProcedure applies a completed procedure's breakdown to the member's
// year-to-date spend and queues it for the payer. Members without a health
// plan are skipped.
func (s *Service) RecordProcedure(ctx context.Context, procedureID, memberID, breakdownID uuid.UUID, completedAt time.Time) error {
	if s.breakdowns == nil || s.procedures == nil {
		return errors.New("accumulation sources are not configured")
	}
	bd, err := s.breakdowns.GetCostBreakdown(ctx, breakdownID)
	if err != nil {
		return fmt.Errorf("cost breakdown %s: %w", breakdownID, err)
	}
	proc, err := s.procedures.ProcedureForCostBreakdown(ctx, procedureID)
	if err != nil {
		return fmt.Errorf("procedure %s: %w", procedureID, err)
	}
	log := s.logger.With().Str("procedure_id", procedureID.String()).Str("member_id", memberID.String()).Logger()

	_, employer, err := s.plans.ActivePlan(ctx, memberID, proc.StartDate)
	if errors.Is(err, costbreakdown.ErrNoHealthPlan) {
		log.Debug().Msg("no health plan, nothing to accumulate")
		return nil
	}
	if err != nil {
		return err
	}
	if bd.Deductible == 0 && bd.OOPApplied == 0 {
		return nil
	}
	if err := s.plans.RecordSpend(ctx, memberID, proc.StartDate, proc.ProcedureType, bd.Deductible, bd.OOPApplied); err != nil {
		return fmt.Errorf("record spend: %w", err)
	}

	m := &Mapping{
		TreatmentProcedureID: &procedureID,
		MemberID:             memberID,
		Payer:                employer.Payer,
		SpendType:            healthplan.SpendTypeFor(proc.ProcedureType),
		Status:               MappingWaiting,
		Deductible:           bd.Deductible,
		OOPApplied:           bd.OOPApplied,
		ServiceDate:          proc.StartDate,
		CompletedAt:          &completedAt,
	}
	if _, err := LayoutFor(employer.Payer); err != nil {
		m.Status, m.RowErrorReason = MappingSkip, err.Error()
	}
	if err := s.mappings.Create(ctx, m); err != nil {
		return fmt.Errorf("create mapping: %w", err)
	}
	log.Info().Str("mapping_id", m.ID.String()).Str("payer", m.Payer).Str("status", m.Status).
		Msg("accumulation mapping created")
	return nil
}

func (s *Service) GetMapping(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	return s.mappings.GetByID(ctx, id)
}

func (s *Service) ListMappings(ctx context.Context, f MappingFilter, limit, offset int) ([]*Mapping, int, error) {
	return s.mappings.List(ctx, f, limit, offset)
}

// SkipMapping keeps a mapping out of future files.
func (s *Service) SkipMapping(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	m, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case MappingWaiting, MappingPaid, MappingRowError, MappingRejected:
	default:
		return nil, fmt.Errorf("%w: cannot skip a %s mapping", ErrInvalidMappingState, m.Status)
	}
	m.Status = MappingSkip
	if err := s.mappings.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarkProcedurePaid moves a procedure's waiting mappings to paid once the
// member's bill settles. Paid mappings are still picked up by the generator.
func (s *Service) MarkProcedurePaid(ctx context.Context, procedureID uuid.UUID) (int, error) {
	var marked int
	err := s.tx.run(ctx, func(ctx context.Context) error {
		ms, _, err := s.mappings.List(ctx, MappingFilter{ProcedureID: procedureID, Status: MappingWaiting}, 100, 0)
		if err != nil {
			return fmt.Errorf("list mappings: %w", err)
		}
		for _, m := range ms {
			m.Status = MappingPaid
			if err := s.mappings.Update(ctx, m); err != nil {
				return fmt.Errorf("update mapping %s: %w", m.ID, err)
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		s.logger.Info().Str("procedure_id", procedureID.String()).Int("mappings", marked).Msg("accumulation mappings marked paid")
	}
	return marked, nil
}

// RetryMapping puts a row_error or rejected mapping back in line.
func (s *Service) RetryMapping(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	m, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != MappingRowError && m.Status != MappingRejected {
		return nil, fmt.Errorf("%w: cannot retry a %s mapping", ErrInvalidMappingState, m.Status)
	}
	m.Status, m.RowErrorReason, m.ResponseCode, m.ReportID = MappingWaiting, "", "", nil
	if err := s.mappings.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ReverseMapping backs out amounts already sent to the payer: the member's
// spend is reduced and a negative row is queued.
func (s *Service) ReverseMapping(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	orig, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.IsReversal || (orig.Status != MappingSubmitted && orig.Status != MappingAccepted) {
		return nil, fmt.Errorf("%w: cannot reverse a %s mapping", ErrInvalidMappingState, orig.Status)
	}
	now := s.now()
	rev := &Mapping{
		TreatmentProcedureID:   orig.TreatmentProcedureID,
		ReimbursementRequestID: orig.ReimbursementRequestID,
		MemberID:               orig.MemberID,
		Payer:                  orig.Payer,
		SpendType:              orig.SpendType,
		Status:                 MappingWaiting,
		Deductible:             -orig.Deductible,
		OOPApplied:             -orig.OOPApplied,
		IsReversal:             true,
		ServiceDate:            orig.ServiceDate,
		CompletedAt:            &now,
	}
	procedureType := "medical"
	if orig.SpendType == healthplan.SpendRx {
		procedureType = "pharmacy"
	}
	err = s.tx.run(ctx, func(ctx context.Context) error {
		if err := s.plans.RecordSpend(ctx, orig.MemberID, orig.ServiceDate, procedureType, rev.Deductible, rev.OOPApplied); err != nil {
			return fmt.Errorf("record reversal spend: %w", err)
		}
		return s.mappings.Create(ctx, rev)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("mapping_id", orig.ID.String()).Str("reversal_id", rev.ID.String()).Msg("accumulation mapping reversed")
	return rev, nil
}

// -- Reports --

func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.reports.GetByID(ctx, id)
}

func (s *Service) ListReports(ctx context.Context, payer string, limit, offset int) ([]*Report, int, error) {
	return s.reports.List(ctx, payer, limit, offset)
}

// ReportFile opens the stored file of a report. The caller closes it.
func (s *Service) ReportFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, *Report, error) {
	report, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.files.Get(ctx, report.FileKey())
	if err != nil {
		return nil, nil, err
	}
	return rc, report, nil
}

func (s *Service) Generate(ctx context.Context, payer string, reportDate time.Time) (*Report, error) {
	return s.generator.Generate(ctx, payer, reportDate)
}

// GenerateAll runs Generate for each payer. One payer failing does not stop
// the others.
func (s *Service) GenerateAll(ctx context.Context, payers []string) error {
	today := s.now()
	var errs []error
	for _, p := range payers {
		if _, err := s.generator.Generate(ctx, p, today); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) IngestResponse(ctx context.Context, payer string, r io.Reader) (*IngestResult, error) {
	return s.ingestor.IngestResponse(ctx, payer, r)
}

func (s *Service) IngestAccumulations(ctx context.Context, payer string, r io.Reader) (*IngestResult, error) {
	return s.ingestor.IngestAccumulations(ctx, payer, r)
}
