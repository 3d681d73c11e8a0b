package careadvocate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memberhealth/benefits/internal/platform/db"
)

// =========== Advocate Repository ===========

type advocateRepoPG struct{ pool *pgxpool.Pool }

func NewAdvocateRepoPG(pool *pgxpool.Pool) AdvocateRepository { return &advocateRepoPG{pool: pool} }

func (r *advocateRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const advocateCols = `id, name, max_capacity, daily_intro_capacity, vacation_started_at,
	vacation_ended_at, created_at, updated_at`

func scanAdvocate(row pgx.Row) (*Advocate, error) {
	var a Advocate
	err := row.Scan(&a.ID, &a.Name, &a.MaxCapacity, &a.DailyIntroCapacity,
		&a.VacationStartedAt, &a.VacationEndedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &a, nil
}

func (r *advocateRepoPG) Create(ctx context.Context, a *Advocate) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO care_advocates (id, name, max_capacity, daily_intro_capacity,
			vacation_started_at, vacation_ended_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		a.ID, a.Name, a.MaxCapacity, a.DailyIntroCapacity, a.VacationStartedAt, a.VacationEndedAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *advocateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Advocate, error) {
	a, err := scanAdvocate(r.conn(ctx).QueryRow(ctx, `SELECT `+advocateCols+` FROM care_advocates WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	sets, err := r.ruleSets(ctx, []uuid.UUID{a.ID})
	if err != nil {
		return nil, err
	}
	a.RuleSets = sets[a.ID]
	return a, nil
}

func (r *advocateRepoPG) Update(ctx context.Context, a *Advocate) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE care_advocates SET name=$2, max_capacity=$3, daily_intro_capacity=$4,
			vacation_started_at=$5, vacation_ended_at=$6, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Name, a.MaxCapacity, a.DailyIntroCapacity, a.VacationStartedAt, a.VacationEndedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *advocateRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Advocate, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Advocate
	for rows.Next() {
		a, err := scanAdvocate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *advocateRepoPG) List(ctx context.Context, limit, offset int) ([]*Advocate, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM care_advocates`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `SELECT `+advocateCols+` FROM care_advocates ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	return items, total, err
}

func (r *advocateRepoPG) ListForMatching(ctx context.Context) ([]*Advocate, error) {
	items, err := r.list(ctx, `SELECT `+advocateCols+` FROM care_advocates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(items))
	for i, a := range items {
		ids[i] = a.ID
	}
	sets, err := r.ruleSets(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range items {
		a.RuleSets = sets[a.ID]
	}
	return items, nil
}

// ruleSets loads the rule sets of advocateIDs, keyed by advocate.
func (r *advocateRepoPG) ruleSets(ctx context.Context, advocateIDs []uuid.UUID) (map[uuid.UUID][]*RuleSet, error) {
	out := map[uuid.UUID][]*RuleSet{}
	if len(advocateIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, advocate_id, created_at FROM matching_rule_sets
		WHERE advocate_id = ANY($1) ORDER BY created_at, id`, advocateIDs)
	if err != nil {
		return nil, err
	}
	byID := map[uuid.UUID]*RuleSet{}
	var setIDs []uuid.UUID
	for rows.Next() {
		rs := &RuleSet{}
		if err := rows.Scan(&rs.ID, &rs.AdvocateID, &rs.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out[rs.AdvocateID] = append(out[rs.AdvocateID], rs)
		byID[rs.ID] = rs
		setIDs = append(setIDs, rs.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(setIDs) == 0 {
		return out, nil
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT id, rule_set_id, rule_type, entity, match_all, identifiers FROM matching_rules
		WHERE rule_set_id = ANY($1) ORDER BY entity, rule_type`, setIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rule MatchingRule
		var setID uuid.UUID
		if err := rows.Scan(&rule.ID, &setID, &rule.Type, &rule.Entity, &rule.All, &rule.Identifiers); err != nil {
			return nil, err
		}
		if rs, ok := byID[setID]; ok {
			rs.Rules = append(rs.Rules, rule)
		}
	}
	return out, rows.Err()
}

func (r *advocateRepoPG) CreateRuleSet(ctx context.Context, rs *RuleSet) error {
	rs.ID = uuid.New()
	c := r.conn(ctx)
	if err := c.QueryRow(ctx, `
		INSERT INTO matching_rule_sets (id, advocate_id) VALUES ($1,$2) RETURNING created_at`,
		rs.ID, rs.AdvocateID).Scan(&rs.CreatedAt); err != nil {
		return err
	}
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		rule.ID = uuid.New()
		if rule.Identifiers == nil {
			rule.Identifiers = []string{}
		}
		if _, err := c.Exec(ctx, `
			INSERT INTO matching_rules (id, rule_set_id, rule_type, entity, match_all, identifiers)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			rule.ID, rs.ID, rule.Type, rule.Entity, rule.All, rule.Identifiers); err != nil {
			return err
		}
	}
	return nil
}

func (r *advocateRepoPG) DeleteRuleSet(ctx context.Context, advocateID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM matching_rule_sets WHERE id = $1 AND advocate_id = $2`, id, advocateID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// =========== Assignment Repository ===========

type assignmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository { return &assignmentRepoPG{pool: pool} }

func (r *assignmentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *assignmentRepoPG) Get(ctx context.Context, memberID uuid.UUID) (*Assignment, error) {
	var a Assignment
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT member_id, advocate_id, source, assigned_at FROM care_team_assignments WHERE member_id = $1`,
		memberID).Scan(&a.MemberID, &a.AdvocateID, &a.Source, &a.AssignedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &a, nil
}

func (r *assignmentRepoPG) Upsert(ctx context.Context, a *Assignment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO care_team_assignments (member_id, advocate_id, source, assigned_at) VALUES ($1,$2,$3,$4)
		ON CONFLICT (member_id) DO UPDATE SET advocate_id = EXCLUDED.advocate_id, source = EXCLUDED.source,
			assigned_at = EXCLUDED.assigned_at`,
		a.MemberID, a.AdvocateID, a.Source, a.AssignedAt)
	return err
}

func (r *assignmentRepoPG) Loads(ctx context.Context, dayStart time.Time) (map[uuid.UUID]Load, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT advocate_id, COUNT(*), COUNT(*) FILTER (WHERE assigned_at >= $1 AND source = $2)
		FROM care_team_assignments GROUP BY advocate_id`, dayStart, AssignmentMatched)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[uuid.UUID]Load{}
	for rows.Next() {
		var id uuid.UUID
		var l Load
		if err := rows.Scan(&id, &l.TotalMembers, &l.AssignedToday); err != nil {
			return nil, err
		}
		out[id] = l
	}
	return out, rows.Err()
}

// =========== Transition Log Repository ===========

type transitionLogRepoPG struct{ pool *pgxpool.Pool }

func NewTransitionLogRepoPG(pool *pgxpool.Pool) TransitionLogRepository {
	return &transitionLogRepoPG{pool: pool}
}

func (r *transitionLogRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const logCols = `id, user_id, date_scheduled, date_completed, uploaded_filename, uploaded_content, created_at`

func scanLog(row pgx.Row) (*TransitionLog, error) {
	var l TransitionLog
	err := row.Scan(&l.ID, &l.UserID, &l.DateScheduled, &l.DateCompleted, &l.UploadedFilename,
		&l.UploadedContent, &l.CreatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &l, nil
}

func (r *transitionLogRepoPG) Create(ctx context.Context, l *TransitionLog) error {
	l.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ca_member_transition_logs (id, user_id, date_scheduled, date_completed,
			uploaded_filename, uploaded_content)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		l.ID, l.UserID, l.DateScheduled, l.DateCompleted, l.UploadedFilename, l.UploadedContent,
	).Scan(&l.CreatedAt)
}

func (r *transitionLogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TransitionLog, error) {
	return scanLog(r.conn(ctx).QueryRow(ctx, `SELECT `+logCols+` FROM ca_member_transition_logs WHERE id = $1`, id))
}

func (r *transitionLogRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM ca_member_transition_logs WHERE id = $1 AND date_completed IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *transitionLogRepoPG) query(ctx context.Context, query string, args ...interface{}) ([]*TransitionLog, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TransitionLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *transitionLogRepoPG) List(ctx context.Context, limit, offset int) ([]*TransitionLog, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ca_member_transition_logs`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, `SELECT `+logCols+` FROM ca_member_transition_logs
		ORDER BY date_scheduled DESC LIMIT $1 OFFSET $2`, limit, offset)
	return items, total, err
}

func (r *transitionLogRepoPG) ListDue(ctx context.Context, at time.Time) ([]*TransitionLog, error) {
	return r.query(ctx, `SELECT `+logCols+` FROM ca_member_transition_logs
		WHERE date_completed IS NULL AND date_scheduled <= $1 ORDER BY date_scheduled, created_at`, at)
}

func (r *transitionLogRepoPG) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ca_member_transition_logs SET date_completed = $2 WHERE id = $1 AND date_completed IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
