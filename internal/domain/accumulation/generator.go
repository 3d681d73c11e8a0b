package accumulation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
	"github.com/memberhealth/benefits/internal/platform/filestore"
	"github.com/memberhealth/benefits/internal/platform/notification"
	"github.com/memberhealth/benefits/internal/platform/queue"
)

// MessageFileReady is the transfer-queue message type for a new payer file.
const MessageFileReady = "file_ready"

var readyStatuses = []string{MappingWaiting, MappingPaid}

// Generator builds payer accumulation files and hands them to the transfer
// queue.
type Generator struct {
	mappings MappingRepository
	reports  ReportRepository
	plans    PlanSource
	files    filestore.Store
	transfer queue.Publisher
	tx       *txRunner
	alerts   *alerter
	logger   zerolog.Logger
	now      func() time.Time
}

// Filename is the payer file name for a report date, stamped with the
// generation time.
func Filename(l *Layout, reportDate, generatedAt time.Time) string {
	return fmt.Sprintf("%s_Maven_Accumulator_%s_%s.txt",
		l.DisplayName, reportDate.Format(dateLayout), generatedAt.Format("150405"))
}

// Generate writes one file for every ready mapping of payer completed on or
// before reportDate. It returns a nil report when nothing is ready.
func (g *Generator) Generate(ctx context.Context, payer string, reportDate time.Time) (*Report, error) {
	layout, err := LayoutFor(payer)
	if err != nil {
		return nil, err
	}
	log := g.logger.With().Str("payer", payer).Logger()

	ready, err := g.mappings.ListReady(ctx, payer, readyStatuses)
	if err != nil {
		return nil, fmt.Errorf("list ready mappings: %w", err)
	}
	day := time.Date(reportDate.Year(), reportDate.Month(), reportDate.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := day.AddDate(0, 0, 1)

	var batch []*Mapping
	var rows []detailRow
	for _, m := range ready {
		if m.CompletedAt == nil || !m.CompletedAt.Before(cutoff) {
			continue
		}
		row, reason, err := g.buildRow(ctx, m)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			m.Status, m.RowErrorReason = MappingRowError, reason
			if err := g.mappings.Update(ctx, m); err != nil {
				return nil, fmt.Errorf("mark row error: %w", err)
			}
			log.Warn().Str("mapping_id", m.ID.String()).Str("reason", reason).Msg("accumulation row rejected")
			continue
		}
		batch = append(batch, m)
		rows = append(rows, row)
	}
	if len(batch) == 0 {
		log.Info().Msg("no accumulation rows ready, skipping file")
		return nil, nil
	}

	now := g.now()
	report := &Report{
		Payer:           payer,
		Filename:        Filename(layout, day, now),
		ReportDate:      day,
		Status:          ReportNew,
		RecordCount:     len(rows),
		TotalDeductible: lo.SumBy(rows, func(r detailRow) int64 { return r.Deductible }),
		TotalOOP:        lo.SumBy(rows, func(r detailRow) int64 { return r.OOP }),
	}
	content, err := buildFile(layout, report, rows, now)
	if err != nil {
		return nil, fmt.Errorf("build %s file: %w", payer, err)
	}

	err = g.tx.run(ctx, func(ctx context.Context) error {
		if err := g.reports.Create(ctx, report); err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		return g.setStatus(ctx, batch, MappingProcessing, &report.ID)
	})
	if err != nil {
		return nil, err
	}
	log = log.With().Str("report_id", report.ID.String()).Logger()

	if err := g.deliver(ctx, report, content); err != nil {
		g.fail(ctx, report, batch, err)
		return report, err
	}

	err = g.tx.run(ctx, func(ctx context.Context) error {
		report.Status = ReportSubmitted
		if err := g.reports.Update(ctx, report); err != nil {
			return fmt.Errorf("update report: %w", err)
		}
		return g.setStatus(ctx, batch, MappingSubmitted, &report.ID)
	})
	if err != nil {
		return report, err
	}
	log.Info().
		Str("filename", report.Filename).
		Int("records", report.RecordCount).
		Int64("total_deductible", report.TotalDeductible).
		Int64("total_oop", report.TotalOOP).
		Msg("accumulation file submitted")
	return report, nil
}

// buildRow returns a non-empty reason when the mapping cannot be reported.
func (g *Generator) buildRow(ctx context.Context, m *Mapping) (detailRow, string, error) {
	plan, _, err := g.plans.ActivePlan(ctx, m.MemberID, m.ServiceDate)
	if errors.Is(err, costbreakdown.ErrNoHealthPlan) {
		return detailRow{}, "no health plan on the service date", nil
	}
	if err != nil {
		return detailRow{}, "", fmt.Errorf("health plan for member %s: %w", m.MemberID, err)
	}
	row := newDetailRow(m, plan)
	return row, row.validate(), nil
}

func (g *Generator) setStatus(ctx context.Context, batch []*Mapping, status string, reportID *uuid.UUID) error {
	for _, m := range batch {
		m.Status, m.ReportID = status, reportID
		if err := g.mappings.Update(ctx, m); err != nil {
			return fmt.Errorf("update mapping %s: %w", m.ID, err)
		}
	}
	return nil
}

func (g *Generator) deliver(ctx context.Context, report *Report, content string) error {
	key := report.FileKey()
	if _, err := g.files.Put(ctx, key, "text/plain", strings.NewReader(content)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	err := g.transfer.Send(ctx, queue.Message{
		Type: MessageFileReady,
		Attributes: map[string]string{
			"payer":        report.Payer,
			"report_id":    report.ID.String(),
			"key":          key,
			"filename":     report.Filename,
			"record_count": strconv.Itoa(report.RecordCount),
		},
	})
	if err != nil {
		if derr := g.files.Delete(ctx, key); derr != nil && !errors.Is(derr, filestore.ErrObjectNotFound) {
			g.logger.Error().Err(derr).Str("key", key).Msg("remove undelivered accumulation file")
		}
		return fmt.Errorf("publish %s: %w", MessageFileReady, err)
	}
	return nil
}

// fail marks the report failed and returns its mappings to the queue.
func (g *Generator) fail(ctx context.Context, report *Report, batch []*Mapping, cause error) {
	g.logger.Error().Err(cause).Str("payer", report.Payer).Str("report_id", report.ID.String()).
		Msg("accumulation file delivery failed")
	err := g.tx.run(ctx, func(ctx context.Context) error {
		report.Status = ReportFailure
		if err := g.reports.Update(ctx, report); err != nil {
			return err
		}
		return g.setStatus(ctx, batch, MappingWaiting, nil)
	})
	if err != nil {
		g.logger.Error().Err(err).Str("report_id", report.ID.String()).Msg("record accumulation failure")
	}
	g.alerts.send(ctx, notification.Event{
		Type:       notification.EventAccumulationFileFailure,
		TemplateID: "accumulation-file-failure",
		Data: map[string]string{
			"payer":     report.Payer,
			"report_id": report.ID.String(),
			"error":     cause.Error(),
		},
	})
}

func buildFile(l *Layout, report *Report, rows []detailRow, generatedAt time.Time) (string, error) {
	header, err := l.Record(RecordHeader)
	if err != nil {
		return "", err
	}
	detail, err := l.Record(RecordDetail)
	if err != nil {
		return "", err
	}
	trailer, err := l.Record(RecordTrailer)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(rows)+2)
	h, err := Encode(header, Values{
		"sender_id":   l.SenderID,
		"receiver_id": l.ReceiverID,
		"file_date":   report.ReportDate,
		"file_time":   int64(generatedAt.Hour()*10000 + generatedAt.Minute()*100 + generatedAt.Second()),
	})
	if err != nil {
		return "", fmt.Errorf("header: %w", err)
	}
	lines = append(lines, h)
	for i, row := range rows {
		line, err := Encode(detail, row.values())
		if err != nil {
			return "", fmt.Errorf("detail %d: %w", i+1, err)
		}
		lines = append(lines, line)
	}
	t, err := Encode(trailer, Values{
		"record_count":     int64(report.RecordCount),
		"total_deductible": report.TotalDeductible,
		"total_oop":        report.TotalOOP,
	})
	if err != nil {
		return "", fmt.Errorf("trailer: %w", err)
	}
	lines = append(lines, t)
	return strings.Join(lines, "\n") + "\n", nil
}
