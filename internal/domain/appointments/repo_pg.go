package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memberhealth/benefits/internal/platform/db"
)

// =========== Product Repository ===========

type productRepoPG struct{ pool *pgxpool.Pool }

func NewProductRepoPG(pool *pgxpool.Pool) ProductRepository { return &productRepoPG{pool: pool} }

func (r *productRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const productCols = `id, practitioner_id, minutes, price, vertical, is_active, created_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.PractitionerID, &p.Minutes, &p.Price, &p.Vertical, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, db.NotFound(err)
	}
	return &p, nil
}

func (r *productRepoPG) Create(ctx context.Context, p *Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO products (id, practitioner_id, minutes, price, vertical, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		p.ID, p.PractitionerID, p.Minutes, p.Price, p.Vertical, p.IsActive,
	).Scan(&p.CreatedAt)
}

func (r *productRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	return scanProduct(r.conn(ctx).QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1`, id))
}

func (r *productRepoPG) Update(ctx context.Context, p *Product) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE products SET minutes=$2, price=$3, vertical=$4, is_active=$5 WHERE id = $1`,
		p.ID, p.Minutes, p.Price, p.Vertical, p.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *productRepoPG) List(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]*Product, int, error) {
	where, args := "", []interface{}{}
	if practitionerID != uuid.Nil {
		where, args = " WHERE practitioner_id = $1", append(args, practitionerID)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+productCols+` FROM products`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const appointmentCols = `id, member_id, product_id, practitioner_id, scheduled_start, scheduled_end,
	member_started_at, member_ended_at, practitioner_started_at, practitioner_ended_at,
	cancelled_at, cancelled_by, disputed_at, cancellation_policy, refund_amount,
	reminder_sent_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.MemberID, &a.ProductID, &a.PractitionerID, &a.ScheduledStart, &a.ScheduledEnd,
		&a.MemberStartedAt, &a.MemberEndedAt, &a.PractitionerStartedAt, &a.PractitionerEndedAt,
		&a.CancelledAt, &a.CancelledBy, &a.DisputedAt, &a.CancellationPolicy, &a.RefundAmount,
		&a.ReminderSentAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, member_id, product_id, practitioner_id, scheduled_start,
			scheduled_end, cancellation_policy)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		a.ID, a.MemberID, a.ProductID, a.PractitionerID, a.ScheduledStart, a.ScheduledEnd, a.CancellationPolicy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET member_started_at=$2, member_ended_at=$3, practitioner_started_at=$4,
			practitioner_ended_at=$5, cancelled_at=$6, cancelled_by=$7, disputed_at=$8,
			refund_amount=$9, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.MemberStartedAt, a.MemberEndedAt, a.PractitionerStartedAt, a.PractitionerEndedAt,
		a.CancelledAt, a.CancelledBy, a.DisputedAt, a.RefundAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE member_id = $1`, memberID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE member_id = $1
		ORDER BY scheduled_start DESC LIMIT $2 OFFSET $3`, memberID, limit, offset)
	return items, total, err
}

func (r *appointmentRepoPG) Overlapping(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+appointmentCols+` FROM appointments
		WHERE practitioner_id = $1 AND cancelled_at IS NULL
			AND scheduled_start < $3 AND scheduled_end > $2`, practitionerID, start, end)
}

func (r *appointmentRepoPG) DueForReminder(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+appointmentCols+` FROM appointments
		WHERE cancelled_at IS NULL AND reminder_sent_at IS NULL
			AND scheduled_start >= $1 AND scheduled_start < $2
		ORDER BY scheduled_start`, from, to)
}

func (r *appointmentRepoPG) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointments SET reminder_sent_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
