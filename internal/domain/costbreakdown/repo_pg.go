package costbreakdown

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memberhealth/benefits/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const cbCols = `id, treatment_procedure_id, wallet_id, member_health_plan_id,
	cost, deductible, copay, coinsurance, oop_applied, deductible_remaining, oop_remaining,
	member_responsibility, employer_responsibility, overage_amount,
	beginning_wallet_balance, ending_wallet_balance, amount_type, cost_share_type, created_at`

func scanCostBreakdown(row pgx.Row) (*CostBreakdown, error) {
	var cb CostBreakdown
	err := row.Scan(&cb.ID, &cb.TreatmentProcedureID, &cb.WalletID, &cb.MemberHealthPlanID,
		&cb.Cost, &cb.Deductible, &cb.Copay, &cb.Coinsurance, &cb.OOPApplied,
		&cb.DeductibleRemaining, &cb.OOPRemaining,
		&cb.MemberResponsibility, &cb.EmployerResponsibility, &cb.OverageAmount,
		&cb.BeginningWalletBalance, &cb.EndingWalletBalance, &cb.AmountType, &cb.CostShareType, &cb.CreatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &cb, nil
}

func (r *repoPG) Create(ctx context.Context, cb *CostBreakdown) error {
	cb.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO cost_breakdowns (id, treatment_procedure_id, wallet_id, member_health_plan_id,
			cost, deductible, copay, coinsurance, oop_applied, deductible_remaining, oop_remaining,
			member_responsibility, employer_responsibility, overage_amount,
			beginning_wallet_balance, ending_wallet_balance, amount_type, cost_share_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at`,
		cb.ID, cb.TreatmentProcedureID, cb.WalletID, cb.MemberHealthPlanID,
		cb.Cost, cb.Deductible, cb.Copay, cb.Coinsurance, cb.OOPApplied,
		cb.DeductibleRemaining, cb.OOPRemaining,
		cb.MemberResponsibility, cb.EmployerResponsibility, cb.OverageAmount,
		cb.BeginningWalletBalance, cb.EndingWalletBalance, cb.AmountType, cb.CostShareType,
	).Scan(&cb.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*CostBreakdown, error) {
	return scanCostBreakdown(r.conn(ctx).QueryRow(ctx, `SELECT `+cbCols+` FROM cost_breakdowns WHERE id = $1`, id))
}

func (r *repoPG) ListByProcedure(ctx context.Context, procedureID uuid.UUID, limit, offset int) ([]*CostBreakdown, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cost_breakdowns WHERE treatment_procedure_id = $1`, procedureID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cbCols+` FROM cost_breakdowns
		WHERE treatment_procedure_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, procedureID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CostBreakdown
	for rows.Next() {
		cb, err := scanCostBreakdown(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, cb)
	}
	return items, total, rows.Err()
}
