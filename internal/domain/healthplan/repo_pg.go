package healthplan

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memberhealth/benefits/internal/platform/db"
)

// =========== Employer Health Plans ===========

type employerPlanRepoPG struct{ pool *pgxpool.Pool }

func NewEmployerPlanRepoPG(pool *pgxpool.Pool) EmployerPlanRepository {
	return &employerPlanRepoPG{pool: pool}
}

func (r *employerPlanRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const ehpCols = `id, name, organization_id, payer,
	individual_deductible, individual_oop_max, family_deductible, family_oop_max,
	is_deductible_embedded, is_oop_embedded, rx_integrated,
	rx_individual_deductible, rx_individual_oop_max, rx_family_deductible, rx_family_oop_max,
	medical_sharing_type, medical_copay, medical_coinsurance,
	pharmacy_sharing_type, pharmacy_copay, pharmacy_coinsurance,
	start_date, end_date, created_at, updated_at`

func scanEmployerPlan(row pgx.Row) (*EmployerHealthPlan, error) {
	var p EmployerHealthPlan
	err := row.Scan(&p.ID, &p.Name, &p.OrganizationID, &p.Payer,
		&p.IndividualDeductible, &p.IndividualOOPMax, &p.FamilyDeductible, &p.FamilyOOPMax,
		&p.IsDeductibleEmbedded, &p.IsOOPEmbedded, &p.RxIntegrated,
		&p.RxIndividualDeductible, &p.RxIndividualOOPMax, &p.RxFamilyDeductible, &p.RxFamilyOOPMax,
		&p.MedicalSharing.Type, &p.MedicalSharing.Copay, &p.MedicalSharing.CoinsuranceRate,
		&p.PharmacySharing.Type, &p.PharmacySharing.Copay, &p.PharmacySharing.CoinsuranceRate,
		&p.StartDate, &p.EndDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &p, nil
}

func (r *employerPlanRepoPG) Create(ctx context.Context, p *EmployerHealthPlan) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO employer_health_plans (id, name, organization_id, payer,
			individual_deductible, individual_oop_max, family_deductible, family_oop_max,
			is_deductible_embedded, is_oop_embedded, rx_integrated,
			rx_individual_deductible, rx_individual_oop_max, rx_family_deductible, rx_family_oop_max,
			medical_sharing_type, medical_copay, medical_coinsurance,
			pharmacy_sharing_type, pharmacy_copay, pharmacy_coinsurance, start_date, end_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.OrganizationID, p.Payer,
		p.IndividualDeductible, p.IndividualOOPMax, p.FamilyDeductible, p.FamilyOOPMax,
		p.IsDeductibleEmbedded, p.IsOOPEmbedded, p.RxIntegrated,
		p.RxIndividualDeductible, p.RxIndividualOOPMax, p.RxFamilyDeductible, p.RxFamilyOOPMax,
		p.MedicalSharing.Type, p.MedicalSharing.Copay, p.MedicalSharing.CoinsuranceRate,
		p.PharmacySharing.Type, p.PharmacySharing.Copay, p.PharmacySharing.CoinsuranceRate,
		p.StartDate, p.EndDate,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *employerPlanRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*EmployerHealthPlan, error) {
	return scanEmployerPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+ehpCols+` FROM employer_health_plans WHERE id = $1`, id))
}

func (r *employerPlanRepoPG) Update(ctx context.Context, p *EmployerHealthPlan) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE employer_health_plans SET name=$2, payer=$3,
			individual_deductible=$4, individual_oop_max=$5, family_deductible=$6, family_oop_max=$7,
			is_deductible_embedded=$8, is_oop_embedded=$9, rx_integrated=$10,
			rx_individual_deductible=$11, rx_individual_oop_max=$12, rx_family_deductible=$13, rx_family_oop_max=$14,
			medical_sharing_type=$15, medical_copay=$16, medical_coinsurance=$17,
			pharmacy_sharing_type=$18, pharmacy_copay=$19, pharmacy_coinsurance=$20,
			start_date=$21, end_date=$22, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Payer,
		p.IndividualDeductible, p.IndividualOOPMax, p.FamilyDeductible, p.FamilyOOPMax,
		p.IsDeductibleEmbedded, p.IsOOPEmbedded, p.RxIntegrated,
		p.RxIndividualDeductible, p.RxIndividualOOPMax, p.RxFamilyDeductible, p.RxFamilyOOPMax,
		p.MedicalSharing.Type, p.MedicalSharing.Copay, p.MedicalSharing.CoinsuranceRate,
		p.PharmacySharing.Type, p.PharmacySharing.Copay, p.PharmacySharing.CoinsuranceRate,
		p.StartDate, p.EndDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *employerPlanRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM employer_health_plans WHERE id = $1`, id)
	return err
}

func (r *employerPlanRepoPG) List(ctx context.Context, limit, offset int) ([]*EmployerHealthPlan, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM employer_health_plans`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ehpCols+` FROM employer_health_plans ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*EmployerHealthPlan
	for rows.Next() {
		p, err := scanEmployerPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Member Health Plans ===========

type memberPlanRepoPG struct{ pool *pgxpool.Pool }

func NewMemberPlanRepoPG(pool *pgxpool.Pool) MemberPlanRepository {
	return &memberPlanRepoPG{pool: pool}
}

func (r *memberPlanRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const mhpCols = `id, member_id, wallet_id, employer_health_plan_id,
	subscriber_insurance_id, subscriber_first_name, subscriber_last_name, subscriber_dob,
	patient_first_name, patient_last_name, patient_dob, patient_sex,
	is_subscriber, plan_type, plan_start_at, plan_end_at, created_at, updated_at`

func scanMemberPlan(row pgx.Row) (*MemberHealthPlan, error) {
	var p MemberHealthPlan
	err := row.Scan(&p.ID, &p.MemberID, &p.WalletID, &p.EmployerHealthPlanID,
		&p.SubscriberInsuranceID, &p.SubscriberFirstName, &p.SubscriberLastName, &p.SubscriberDOB,
		&p.PatientFirstName, &p.PatientLastName, &p.PatientDOB, &p.PatientSex,
		&p.IsSubscriber, &p.PlanType, &p.PlanStartAt, &p.PlanEndAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &p, nil
}

func (r *memberPlanRepoPG) Create(ctx context.Context, p *MemberHealthPlan) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO member_health_plans (id, member_id, wallet_id, employer_health_plan_id,
			subscriber_insurance_id, subscriber_first_name, subscriber_last_name, subscriber_dob,
			patient_first_name, patient_last_name, patient_dob, patient_sex,
			is_subscriber, plan_type, plan_start_at, plan_end_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		p.ID, p.MemberID, p.WalletID, p.EmployerHealthPlanID,
		p.SubscriberInsuranceID, p.SubscriberFirstName, p.SubscriberLastName, p.SubscriberDOB,
		p.PatientFirstName, p.PatientLastName, p.PatientDOB, p.PatientSex,
		p.IsSubscriber, p.PlanType, p.PlanStartAt, p.PlanEndAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *memberPlanRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MemberHealthPlan, error) {
	return scanMemberPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+mhpCols+` FROM member_health_plans WHERE id = $1`, id))
}

func (r *memberPlanRepoPG) Update(ctx context.Context, p *MemberHealthPlan) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE member_health_plans SET wallet_id=$2, subscriber_insurance_id=$3,
			subscriber_first_name=$4, subscriber_last_name=$5, subscriber_dob=$6,
			patient_first_name=$7, patient_last_name=$8, patient_dob=$9, patient_sex=$10,
			is_subscriber=$11, plan_type=$12, plan_start_at=$13, plan_end_at=$14, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.WalletID, p.SubscriberInsuranceID,
		p.SubscriberFirstName, p.SubscriberLastName, p.SubscriberDOB,
		p.PatientFirstName, p.PatientLastName, p.PatientDOB, p.PatientSex,
		p.IsSubscriber, p.PlanType, p.PlanStartAt, p.PlanEndAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *memberPlanRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM member_health_plans WHERE id = $1`, id)
	return err
}

func (r *memberPlanRepoPG) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*MemberHealthPlan, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+mhpCols+` FROM member_health_plans
		WHERE member_id = $1 ORDER BY plan_start_at DESC`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MemberHealthPlan
	for rows.Next() {
		p, err := scanMemberPlan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// =========== YTD Spend ===========

type ytdRepoPG struct{ pool *pgxpool.Pool }

func NewYTDSpendRepoPG(pool *pgxpool.Pool) YTDSpendRepository {
	return &ytdRepoPG{pool: pool}
}

func (r *ytdRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const ytdCols = `id, policy_id, member_id, year, source, spend_type,
	deductible_applied, oop_applied, created_at, updated_at`

func (r *ytdRepoPG) ListByPolicy(ctx context.Context, policyID string, year int) ([]*YTDSpend, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ytdCols+` FROM ytd_spend
		WHERE policy_id = $1 AND year = $2 ORDER BY member_id, source, spend_type`, policyID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*YTDSpend
	for rows.Next() {
		var s YTDSpend
		if err := rows.Scan(&s.ID, &s.PolicyID, &s.MemberID, &s.Year, &s.Source, &s.Type,
			&s.DeductibleApplied, &s.OOPApplied, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *ytdRepoPG) Upsert(ctx context.Context, s *YTDSpend) error {
	return r.write(ctx, s, `deductible_applied = EXCLUDED.deductible_applied, oop_applied = EXCLUDED.oop_applied`)
}

func (r *ytdRepoPG) Increment(ctx context.Context, s *YTDSpend) error {
	return r.write(ctx, s, `deductible_applied = ytd_spend.deductible_applied + EXCLUDED.deductible_applied,
		oop_applied = ytd_spend.oop_applied + EXCLUDED.oop_applied`)
}

func (r *ytdRepoPG) write(ctx context.Context, s *YTDSpend, onConflict string) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ytd_spend (id, policy_id, member_id, year, source, spend_type, deductible_applied, oop_applied)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (policy_id, member_id, year, source, spend_type) DO UPDATE SET `+onConflict+`, updated_at = NOW()
		RETURNING id, deductible_applied, oop_applied, created_at, updated_at`,
		uuid.New(), s.PolicyID, s.MemberID, s.Year, s.Source, s.Type, s.DeductibleApplied, s.OOPApplied,
	).Scan(&s.ID, &s.DeductibleApplied, &s.OOPApplied, &s.CreatedAt, &s.UpdatedAt)
}
