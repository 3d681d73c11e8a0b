package accumulation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/domain/healthplan"
	"github.com/memberhealth/benefits/internal/platform/db"
)

// IngestResult summarizes one payer file. Line problems are collected in
// Errors instead of aborting the file.
type IngestResult struct {
	Payer     string   `json:"payer"`
	Lines     int      `json:"lines"`
	Processed int      `json:"processed"`
	Accepted  int      `json:"accepted,omitempty"`
	Rejected  int      `json:"rejected,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

func (r *IngestResult) lineError(line int, format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)))
}

// Ingestor reads files sent back by payers.
type Ingestor struct {
	mappings MappingRepository
	plans    PlanSource
	logger   zerolog.Logger
}

// scan calls fn for every line carrying the want record. Header and trailer
// lines are skipped; anything else is reported on the result.
func scan(r io.Reader, l *Layout, want string, res *IngestResult, fn func(n int, v Values) error) error {
	rec, err := l.Record(want)
	if err != nil {
		return err
	}
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		res.Lines++
		name, _, ok := l.RecordFor(line)
		switch {
		case !ok:
			res.lineError(n, "unknown record type")
			continue
		case name == RecordHeader || name == RecordTrailer:
			continue
		case name != want:
			res.lineError(n, "unexpected %s record", name)
			continue
		}
		v, err := Decode(rec, line)
		if err != nil {
			res.lineError(n, "%v", err)
			continue
		}
		if err := fn(n, v); err != nil {
			return err
		}
	}
	return sc.Err()
}

// IngestResponse applies a payer's accept/reject file to submitted mappings.
func (in *Ingestor) IngestResponse(ctx context.Context, payer string, r io.Reader) (*IngestResult, error) {
	layout, err := LayoutFor(payer)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Payer: payer}
	err = scan(r, layout, RecordResponse, res, func(n int, v Values) error {
		id, err := uuid.Parse(v.Str("transaction_id"))
		if err != nil {
			res.lineError(n, "invalid transaction id %q", v.Str("transaction_id"))
			return nil
		}
		m, err := in.mappings.GetByID(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			res.lineError(n, "unknown transaction %s", id)
			return nil
		}
		if err != nil {
			return err
		}
		if m.Payer != payer {
			res.lineError(n, "transaction %s belongs to %s", id, m.Payer)
			return nil
		}
		if m.Status != MappingSubmitted {
			res.lineError(n, "transaction %s is %s, not submitted", id, m.Status)
			return nil
		}
		code := v.Str("status_code")
		switch code {
		case ResponseAccepted:
			m.Status, m.RowErrorReason = MappingAccepted, ""
			res.Accepted++
		case ResponseRejected:
			m.Status, m.RowErrorReason = MappingRejected, v.Str("reject_reason")
			res.Rejected++
		default:
			res.lineError(n, "unknown status code %q", code)
			return nil
		}
		m.ResponseCode = code
		if err := in.mappings.Update(ctx, m); err != nil {
			return fmt.Errorf("update mapping %s: %w", m.ID, err)
		}
		res.Processed++
		return nil
	})
	if err != nil {
		return res, err
	}
	in.logger.Info().Str("payer", payer).Int("accepted", res.Accepted).Int("rejected", res.Rejected).
		Int("errors", len(res.Errors)).Msg("payer response ingested")
	return res, nil
}

// IngestAccumulations stores the year-to-date totals a payer reports for
// members as payer_file spend. These cover claims the payer adjudicated
// outside the wallet; spend we submitted stays under the maven source.
func (in *Ingestor) IngestAccumulations(ctx context.Context, payer string, r io.Reader) (*IngestResult, error) {
	layout, err := LayoutFor(payer)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Payer: payer}
	err = scan(r, layout, RecordAccumulation, res, func(n int, v Values) error {
		memberID, err := uuid.Parse(v.Str("member_ref"))
		if err != nil {
			res.lineError(n, "invalid member reference %q", v.Str("member_ref"))
			return nil
		}
		spendType, ok := spendTypeFromCode(v.Str("accumulator_type"))
		if !ok {
			res.lineError(n, "unknown accumulator type %q", v.Str("accumulator_type"))
			return nil
		}
		rec := &healthplan.YTDSpend{
			PolicyID:          v.Str("member_id"),
			MemberID:          memberID,
			Year:              int(v.Int("plan_year")),
			Source:            healthplan.SourcePayerFile,
			Type:              spendType,
			DeductibleApplied: v.Int("deductible"),
			OOPApplied:        v.Int("oop"),
		}
		err = in.plans.UpsertYTDSpend(ctx, rec)
		if errors.Is(err, healthplan.ErrInvalidPlan) {
			res.lineError(n, "%v", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("upsert ytd spend: %w", err)
		}
		res.Processed++
		return nil
	})
	if err != nil {
		return res, err
	}
	in.logger.Info().Str("payer", payer).Int("processed", res.Processed).
		Int("errors", len(res.Errors)).Msg("payer accumulations ingested")
	return res, nil
}
