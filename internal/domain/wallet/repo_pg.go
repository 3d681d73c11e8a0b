package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memberhealth/benefits/internal/platform/db"
)

// -- Wallets --

type walletRepoPG struct{ pool *pgxpool.Pool }

func NewWalletRepoPG(pool *pgxpool.Pool) WalletRepository { return &walletRepoPG{pool: pool} }

func (r *walletRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const walletCols = `id, member_id, organization_id, state, benefit_type, currency, created_at, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.MemberID, &w.OrganizationID, &w.State, &w.BenefitType, &w.Currency,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &w, nil
}

func (r *walletRepoPG) Create(ctx context.Context, w *Wallet) error {
	w.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO wallets (id, member_id, organization_id, state, benefit_type, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		w.ID, w.MemberID, w.OrganizationID, w.State, w.BenefitType, w.Currency,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *walletRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	return scanWallet(r.conn(ctx).QueryRow(ctx, `SELECT `+walletCols+` FROM wallets WHERE id = $1`, id))
}

func (r *walletRepoPG) UpdateState(ctx context.Context, id uuid.UUID, state string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE wallets SET state = $2, updated_at = NOW() WHERE id = $1`, id, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *walletRepoPG) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Wallet, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+walletCols+` FROM wallets
		WHERE member_id = $1 ORDER BY created_at`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (r *walletRepoPG) CreateCategory(ctx context.Context, c *Category) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO wallet_categories (id, wallet_id, name, limit_amount, limit_cycles)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		c.ID, c.WalletID, c.Name, c.LimitAmount, c.LimitCycles,
	).Scan(&c.CreatedAt)
}

func (r *walletRepoPG) ListCategories(ctx context.Context, walletID uuid.UUID) ([]*Category, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, wallet_id, name, limit_amount, limit_cycles, created_at
		FROM wallet_categories WHERE wallet_id = $1 ORDER BY name`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.WalletID, &c.Name, &c.LimitAmount, &c.LimitCycles, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

// -- Reimbursement requests --

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const requestCols = `id, wallet_id, category_id, amount, description, service_start_date, service_end_date,
	state, state_reason, created_at, updated_at`

func scanRequest(row pgx.Row) (*ReimbursementRequest, error) {
	var rr ReimbursementRequest
	err := row.Scan(&rr.ID, &rr.WalletID, &rr.CategoryID, &rr.Amount, &rr.Description,
		&rr.ServiceStartDate, &rr.ServiceEndDate, &rr.State, &rr.StateReason, &rr.CreatedAt, &rr.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &rr, nil
}

func (r *requestRepoPG) Create(ctx context.Context, rr *ReimbursementRequest) error {
	rr.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reimbursement_requests (id, wallet_id, category_id, amount, description,
			service_start_date, service_end_date, state, state_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		rr.ID, rr.WalletID, rr.CategoryID, rr.Amount, rr.Description,
		rr.ServiceStartDate, rr.ServiceEndDate, rr.State, rr.StateReason,
	).Scan(&rr.CreatedAt, &rr.UpdatedAt)
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ReimbursementRequest, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM reimbursement_requests WHERE id = $1`, id))
}

func (r *requestRepoPG) Update(ctx context.Context, rr *ReimbursementRequest) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE reimbursement_requests SET state = $2, state_reason = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rr.ID, rr.State, rr.StateReason,
	).Scan(&rr.UpdatedAt)
}

func (r *requestRepoPG) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*ReimbursementRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reimbursement_requests WHERE wallet_id = $1`, walletID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+requestCols+` FROM reimbursement_requests
		WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, walletID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectRequests(rows)
	return items, total, err
}

func (r *requestRepoPG) ListCharged(ctx context.Context, walletID uuid.UUID) ([]*ReimbursementRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+requestCols+` FROM reimbursement_requests
		WHERE wallet_id = $1 AND state IN ($2, $3)`, walletID, RequestApproved, RequestReimbursed)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]*ReimbursementRequest, error) {
	defer rows.Close()
	var items []*ReimbursementRequest
	for rows.Next() {
		rr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rr)
	}
	return items, rows.Err()
}

// -- Treatment procedures --

type procedureRepoPG struct{ pool *pgxpool.Pool }

func NewProcedureRepoPG(pool *pgxpool.Pool) ProcedureRepository { return &procedureRepoPG{pool: pool} }

func (r *procedureRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const procedureCols = `id, member_id, wallet_id, category_id, procedure_name, procedure_type, cost, cost_credit,
	start_date, end_date, status, cost_breakdown_id, employer_responsibility, completed_at, created_at, updated_at`

func scanProcedure(row pgx.Row) (*TreatmentProcedure, error) {
	var p TreatmentProcedure
	err := row.Scan(&p.ID, &p.MemberID, &p.WalletID, &p.CategoryID, &p.ProcedureName, &p.ProcedureType,
		&p.Cost, &p.CostCredit, &p.StartDate, &p.EndDate, &p.Status, &p.CostBreakdownID,
		&p.EmployerResponsibility, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &p, nil
}

func (r *procedureRepoPG) Create(ctx context.Context, p *TreatmentProcedure) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO treatment_procedures (id, member_id, wallet_id, category_id, procedure_name, procedure_type,
			cost, cost_credit, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		p.ID, p.MemberID, p.WalletID, p.CategoryID, p.ProcedureName, p.ProcedureType,
		p.Cost, p.CostCredit, p.StartDate, p.EndDate, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *procedureRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TreatmentProcedure, error) {
	return scanProcedure(r.conn(ctx).QueryRow(ctx, `SELECT `+procedureCols+` FROM treatment_procedures WHERE id = $1`, id))
}

func (r *procedureRepoPG) Update(ctx context.Context, p *TreatmentProcedure) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE treatment_procedures SET end_date = $2, status = $3, cost_breakdown_id = $4,
			employer_responsibility = $5, completed_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.EndDate, p.Status, p.CostBreakdownID, p.EmployerResponsibility, p.CompletedAt,
	).Scan(&p.UpdatedAt)
	return db.NotFound(err)
}

func (r *procedureRepoPG) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]*TreatmentProcedure, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+procedureCols+` FROM treatment_procedures
		WHERE wallet_id = $1 ORDER BY start_date`, walletID)
	if err != nil {
		return nil, err
	}
	return collectProcedures(rows)
}

func (r *procedureRepoPG) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*TreatmentProcedure, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM treatment_procedures WHERE member_id = $1`, memberID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+procedureCols+` FROM treatment_procedures
		WHERE member_id = $1 ORDER BY start_date DESC LIMIT $2 OFFSET $3`, memberID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectProcedures(rows)
	return items, total, err
}

func collectProcedures(rows pgx.Rows) ([]*TreatmentProcedure, error) {
	defer rows.Close()
	var items []*TreatmentProcedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// -- Bills --

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const billCols = `id, procedure_id, payor_type, payor_id, amount, status, error_reason,
	processing_at, paid_at, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.ProcedureID, &b.PayorType, &b.PayorID, &b.Amount, &b.Status, &b.ErrorReason,
		&b.ProcessingAt, &b.PaidAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &b, nil
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bills (id, procedure_id, payor_type, payor_id, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		b.ID, b.ProcedureID, b.PayorType, b.PayorID, b.Amount, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1`, id))
}

func (r *billRepoPG) Update(ctx context.Context, b *Bill) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE bills SET status = $2, error_reason = $3, processing_at = $4, paid_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.Status, b.ErrorReason, b.ProcessingAt, b.PaidAt,
	).Scan(&b.UpdatedAt)
}

func (r *billRepoPG) ListByProcedure(ctx context.Context, procedureID uuid.UUID) ([]*Bill, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+billCols+` FROM bills
		WHERE procedure_id = $1 ORDER BY created_at`, procedureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
