package notification

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/memberhealth/benefits/internal/platform/db"
)

// MemoryStore keeps notifications in process. Used in development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Notification)}
}

func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *MemoryStore) Update(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[n.ID]; !ok {
		return db.ErrNotFound
	}
	n.UpdatedAt = time.Now().UTC()
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListByMember(_ context.Context, memberID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for _, n := range s.items {
		if n.MemberID == memberID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	return lo.Subset(out, offset, uint(limit)), total, nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for _, n := range s.items {
		if n.Status == StatusFailed && n.NextAttemptAt != nil && !n.NextAttemptAt.After(now) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(*out[j].NextAttemptAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

const notifCols = `id, member_id, event_type, template_id, subject, body, data, status,
	attempts, error, next_attempt_at, sent_at, created_at, updated_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var data []byte
	err := row.Scan(&n.ID, &n.MemberID, &n.EventType, &n.TemplateID, &n.Subject, &n.Body, &data, &n.Status,
		&n.Attempts, &n.Error, &n.NextAttemptAt, &n.SentAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func (s *storePG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	data, err := json.Marshal(lo.Ternary(n.Data == nil, map[string]string{}, n.Data))
	if err != nil {
		return err
	}
	return s.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (id, member_id, event_type, template_id, subject, body, data, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		n.ID, n.MemberID, n.EventType, n.TemplateID, n.Subject, n.Body, data, n.Status,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
}

func (s *storePG) Update(ctx context.Context, n *Notification) error {
	return s.conn(ctx).QueryRow(ctx, `
		UPDATE notifications SET status = $2, attempts = $3, error = $4, next_attempt_at = $5,
			sent_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		n.ID, n.Status, n.Attempts, n.Error, n.NextAttemptAt, n.SentAt,
	).Scan(&n.UpdatedAt)
}

func (s *storePG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(s.conn(ctx).QueryRow(ctx, `SELECT `+notifCols+` FROM notifications WHERE id = $1`, id))
}

func (s *storePG) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE member_id = $1`, memberID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+notifCols+` FROM notifications
		WHERE member_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, memberID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (s *storePG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+notifCols+` FROM notifications
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at LIMIT $3`, StatusFailed, now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}
