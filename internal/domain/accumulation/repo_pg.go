package accumulation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memberhealth/benefits/internal/platform/db"
)

// =========== Mapping Repository ===========

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository { return &mappingRepoPG{pool: pool} }

func (r *mappingRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const mappingCols = `id, treatment_procedure_id, reimbursement_request_id, member_id, payer, spend_type,
	report_id, status, deductible, oop_applied, is_reversal, service_date, completed_at, row_error_reason,
	response_code, created_at, updated_at`

func scanMapping(row pgx.Row) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.TreatmentProcedureID, &m.ReimbursementRequestID, &m.MemberID,
		&m.Payer, &m.SpendType, &m.ReportID, &m.Status, &m.Deductible, &m.OOPApplied,
		&m.IsReversal, &m.ServiceDate, &m.CompletedAt, &m.RowErrorReason, &m.ResponseCode, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &m, nil
}

func (r *mappingRepoPG) Create(ctx context.Context, m *Mapping) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO accumulation_mappings (id, treatment_procedure_id, reimbursement_request_id,
			member_id, payer, spend_type, report_id, status, deductible, oop_applied, is_reversal,
			service_date, completed_at, row_error_reason, response_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		m.ID, m.TreatmentProcedureID, m.ReimbursementRequestID, m.MemberID, m.Payer, m.SpendType,
		m.ReportID, m.Status, m.Deductible, m.OOPApplied, m.IsReversal, m.ServiceDate, m.CompletedAt,
		m.RowErrorReason, m.ResponseCode,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *mappingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	return scanMapping(r.conn(ctx).QueryRow(ctx, `SELECT `+mappingCols+` FROM accumulation_mappings WHERE id = $1`, id))
}

func (r *mappingRepoPG) Update(ctx context.Context, m *Mapping) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accumulation_mappings SET report_id=$2, status=$3, row_error_reason=$4,
			response_code=$5, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.ReportID, m.Status, m.RowErrorReason, m.ResponseCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *mappingRepoPG) ListReady(ctx context.Context, payer string, statuses []string) ([]*Mapping, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+mappingCols+` FROM accumulation_mappings
		WHERE payer = $1 AND status = ANY($2) ORDER BY completed_at, created_at`, payer, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *mappingRepoPG) List(ctx context.Context, f MappingFilter, limit, offset int) ([]*Mapping, int, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Payer != "" {
		add("payer = $%d", f.Payer)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.MemberID != uuid.Nil {
		add("member_id = $%d", f.MemberID)
	}
	if f.ReportID != uuid.Nil {
		add("report_id = $%d", f.ReportID)
	}
	if f.ProcedureID != uuid.Nil {
		add("treatment_procedure_id = $%d", f.ProcedureID)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM accumulation_mappings`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM accumulation_mappings%s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, mappingCols, cond, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// =========== Report Repository ===========

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository { return &reportRepoPG{pool: pool} }

func (r *reportRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const reportCols = `id, payer, filename, report_date, status, record_count, total_deductible,
	total_oop, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rp Report
	err := row.Scan(&rp.ID, &rp.Payer, &rp.Filename, &rp.ReportDate, &rp.Status, &rp.RecordCount,
		&rp.TotalDeductible, &rp.TotalOOP, &rp.CreatedAt, &rp.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &rp, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rp *Report) error {
	rp.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payer_accumulation_reports (id, payer, filename, report_date, status,
			record_count, total_deductible, total_oop)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		rp.ID, rp.Payer, rp.Filename, rp.ReportDate, rp.Status, rp.RecordCount,
		rp.TotalDeductible, rp.TotalOOP,
	).Scan(&rp.CreatedAt, &rp.UpdatedAt)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM payer_accumulation_reports WHERE id = $1`, id))
}

func (r *reportRepoPG) Update(ctx context.Context, rp *Report) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payer_accumulation_reports SET status=$2, record_count=$3, total_deductible=$4,
			total_oop=$5, updated_at=NOW()
		WHERE id = $1`,
		rp.ID, rp.Status, rp.RecordCount, rp.TotalDeductible, rp.TotalOOP)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *reportRepoPG) List(ctx context.Context, payer string, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payer_accumulation_reports
		WHERE $1 = '' OR payer = $1`, payer).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM payer_accumulation_reports
		WHERE $1 = '' OR payer = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, payer, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rp)
	}
	return items, total, rows.Err()
}
