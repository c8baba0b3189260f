// Package postgres persists audit entries in the append-only audit_log_entries table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"warden/internal/audit/models"
)

const table = "audit_log_entries"

var columns = []string{
	"id", "actor_id", "action", "target_type", "target_id",
	"before_state", "after_state", "reason", "ip_address", "user_agent",
	"metadata", "created_at",
}

// Store implements the recorder's store over PostgreSQL.
type Store struct {
	db *sql.DB
	qb sq.StatementBuilderType
}

func New(db *sql.DB) *Store {
	return &Store{db: db, qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (s *Store) Append(ctx context.Context, e *models.Entry) error {
	before, err := marshalJSON(e.Before)
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}
	after, err := marshalJSON(e.After)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}
	metadata, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query, args, err := s.qb.Insert(table).
		Columns(columns...).
		Values(
			e.ID.String(), e.ActorID.String(), e.Action.String(), e.TargetType, e.TargetID,
			before, after, e.Reason, e.IPAddress, e.UserAgent,
			metadata, e.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f models.Filter) ([]*models.Entry, error) {
	q := s.qb.Select(columns...).
		From(table).
		OrderBy("created_at DESC", "id DESC")

	if f.ActorID != nil {
		q = q.Where(sq.Eq{"actor_id": f.ActorID.String()})
	}
	if f.Action != "" {
		q = q.Where(sq.Eq{"action": f.Action.String()})
	}
	if f.TargetType != "" {
		q = q.Where(sq.Eq{"target_type": f.TargetType})
	}
	if f.TargetID != "" {
		q = q.Where(sq.Eq{"target_id": f.TargetID})
	}
	if !f.From.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": f.From})
	}
	if !f.To.IsZero() {
		q = q.Where(sq.Lt{"created_at": f.To})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *Store) Stats(ctx context.Context, from, to time.Time) (*models.Stats, error) {
	stats := &models.Stats{From: from, To: to}

	byActor, total, err := s.countBy(ctx, "actor_id::text", from, to)
	if err != nil {
		return nil, err
	}
	byAction, _, err := s.countBy(ctx, "action", from, to)
	if err != nil {
		return nil, err
	}
	stats.Total = total
	stats.ByActor = byActor
	stats.ByAction = byAction
	return stats, nil
}

func (s *Store) countBy(ctx context.Context, expr string, from, to time.Time) ([]models.Count, int, error) {
	query, args, err := s.qb.Select(expr+" AS grp", "COUNT(*) AS n").
		From(table).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.Lt{"created_at": to}).
		GroupBy("grp").
		OrderBy("n DESC", "grp ASC").
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build stats query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit stats: %w", err)
	}
	defer rows.Close()

	counts := make([]models.Count, 0)
	total := 0
	for rows.Next() {
		var c models.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, 0, fmt.Errorf("scan audit stats: %w", err)
		}
		total += c.Count
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit stats: %w", err)
	}
	return counts, total, nil
}

func scanEntry(rows *sql.Rows) (*models.Entry, error) {
	var (
		e                       models.Entry
		entryID, actorID        string
		action                  string
		before, after, metadata []byte
	)
	if err := rows.Scan(
		&entryID, &actorID, &action, &e.TargetType, &e.TargetID,
		&before, &after, &e.Reason, &e.IPAddress, &e.UserAgent,
		&metadata, &e.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	if err := e.ID.UnmarshalText([]byte(entryID)); err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	if err := e.ActorID.UnmarshalText([]byte(actorID)); err != nil {
		return nil, fmt.Errorf("parse actor id: %w", err)
	}
	e.Action = models.Action(action)
	if err := unmarshalJSON(before, &e.Before); err != nil {
		return nil, fmt.Errorf("decode before state: %w", err)
	}
	if err := unmarshalJSON(after, &e.After); err != nil {
		return nil, fmt.Errorf("decode after state: %w", err)
	}
	if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func marshalJSON(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(b []byte, dst *map[string]any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
