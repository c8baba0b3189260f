// Package postgres persists security and user events. Both tables are
// write-once; only the resolution columns of security_events are updated.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"warden/internal/activity/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

const (
	securityTable = "security_events"
	userTable     = "user_events"
)

var securityColumns = []string{
	"id", "user_id", "event_type", "severity", "description",
	"ip_address", "user_agent", "metadata",
	"resolved", "resolved_by", "resolved_at", "created_at",
}

var userColumns = []string{
	"id", "user_id", "event_type", "category", "data",
	"ip_address", "session_id", "created_at",
}

type Store struct {
	db *sql.DB
	qb sq.StatementBuilderType
}

func New(db *sql.DB) *Store {
	return &Store{db: db, qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (s *Store) AppendSecurity(ctx context.Context, ev *models.SecurityEvent) error {
	metadata, err := marshalJSON(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query, args, err := s.qb.Insert(securityTable).
		Columns(securityColumns...).
		Values(
			ev.ID.String(), nullableID(ev.UserID), string(ev.Type), string(ev.Severity), ev.Description,
			ev.IPAddress, ev.UserAgent, metadata,
			ev.Resolved, nullableID(ev.ResolvedBy), ev.ResolvedAt, ev.CreatedAt,
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("security event %s: %w", ev.ID, sentinel.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) AppendUser(ctx context.Context, ev *models.UserEvent) error {
	data, err := marshalJSON(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	query, args, err := s.qb.Insert(userTable).
		Columns(userColumns...).
		Values(
			ev.ID.String(), nullableID(ev.UserID), string(ev.Type), ev.Category, data,
			ev.IPAddress, ev.SessionID, ev.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert user event: %w", err)
	}
	return nil
}

// CountSecurityEvents counts events of q.Type for q's identity with
// After < created_at <= Until. A user id takes precedence over the IP.
func (s *Store) CountSecurityEvents(ctx context.Context, q models.CountQuery) (int, error) {
	b := s.qb.Select("COUNT(*)").
		From(securityTable).
		Where(sq.Eq{"event_type": string(q.Type)}).
		Where(sq.Gt{"created_at": q.After}).
		Where(sq.LtOrEq{"created_at": q.Until})
	if q.UserID != nil {
		b = b.Where(sq.Eq{"user_id": q.UserID.String()})
	} else {
		b = b.Where(sq.Eq{"user_id": nil, "ip_address": q.IPAddress})
	}
	return s.count(ctx, b)
}

func (s *Store) ListSecurity(ctx context.Context, f models.SecurityFilter) ([]*models.SecurityEvent, error) {
	q := s.qb.Select(securityColumns...).
		From(securityTable).
		OrderBy("created_at DESC", "id DESC")

	if f.Severity != nil {
		q = q.Where(sq.Eq{"severity": string(*f.Severity)})
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"event_type": string(f.Type)})
	}
	if f.UserID != nil {
		q = q.Where(sq.Eq{"user_id": f.UserID.String()})
	}
	if f.Resolved != nil {
		q = q.Where(sq.Eq{"resolved": *f.Resolved})
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
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		ev, err := scanSecurity(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return events, nil
}

func (s *Store) GetSecurity(ctx context.Context, eventID id.EventID) (*models.SecurityEvent, error) {
	query, args, err := s.qb.Select(securityColumns...).
		From(securityTable).
		Where(sq.Eq{"id": eventID.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	ev, err := scanSecurity(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("security event %s: %w", eventID, sentinel.ErrNotFound)
	}
	return ev, err
}

// ResolveSecurity marks an event resolved. Resolving twice returns ErrInvalidState.
func (s *Store) ResolveSecurity(ctx context.Context, eventID id.EventID, resolver id.ActorID, at time.Time) (*models.SecurityEvent, error) {
	query, args, err := s.qb.Update(securityTable).
		Set("resolved", true).
		Set("resolved_by", resolver.String()).
		Set("resolved_at", at).
		Where(sq.Eq{"id": eventID.String(), "resolved": false}).
		Suffix("RETURNING " + strings.Join(securityColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}
	ev, err := scanSecurity(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return ev, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolve security event: %w", err)
	}
	if _, gerr := s.GetSecurity(ctx, eventID); gerr != nil {
		return nil, gerr
	}
	return nil, fmt.Errorf("security event %s already resolved: %w", eventID, sentinel.ErrInvalidState)
}

// ListUserEvents returns a user's events newest first.
func (s *Store) ListUserEvents(ctx context.Context, userID id.ActorID, limit int) ([]*models.UserEvent, error) {
	q := s.qb.Select(userColumns...).
		From(userTable).
		Where(sq.Eq{"user_id": userID.String()}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.UserEvent, 0)
	for rows.Next() {
		ev, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user events: %w", err)
	}
	return events, nil
}

// CountUserEvents counts events of t with from <= created_at < to.
func (s *Store) CountUserEvents(ctx context.Context, t models.UserEventType, from, to time.Time) (int, error) {
	return s.count(ctx, s.qb.Select("COUNT(*)").
		From(userTable).
		Where(sq.Eq{"event_type": string(t)}).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.Lt{"created_at": to}))
}

// CountDistinctUsers counts distinct user ids among events in [from, to).
// An empty types list matches every type.
func (s *Store) CountDistinctUsers(ctx context.Context, types []models.UserEventType, from, to time.Time) (int, error) {
	b := s.qb.Select("COUNT(DISTINCT user_id)").
		From(userTable).
		Where(sq.NotEq{"user_id": nil}).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.Lt{"created_at": to})
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		b = b.Where(sq.Eq{"event_type": names})
	}
	return s.count(ctx, b)
}

// CountUserEventsByCategory groups events in [from, to) by category.
func (s *Store) CountUserEventsByCategory(ctx context.Context, from, to time.Time) (map[string]int, error) {
	query, args, err := s.qb.Select("category", "COUNT(*)").
		From(userTable).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.Lt{"created_at": to}).
		GroupBy("category").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build category query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		out[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// CountSecurityInRange counts events of t with from <= created_at < to.
func (s *Store) CountSecurityInRange(ctx context.Context, t models.SecurityEventType, from, to time.Time) (int, error) {
	return s.count(ctx, s.qb.Select("COUNT(*)").
		From(securityTable).
		Where(sq.Eq{"event_type": string(t)}).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.Lt{"created_at": to}))
}

func (s *Store) count(ctx context.Context, b sq.SelectBuilder) (int, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSecurity(row scanner) (*models.SecurityEvent, error) {
	var (
		ev                  models.SecurityEvent
		eventID             string
		userID, resolvedBy  sql.NullString
		eventType, severity string
		metadata            []byte
		resolvedAt          sql.NullTime
	)
	if err := row.Scan(
		&eventID, &userID, &eventType, &severity, &ev.Description,
		&ev.IPAddress, &ev.UserAgent, &metadata,
		&ev.Resolved, &resolvedBy, &resolvedAt, &ev.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan security event: %w", err)
	}
	if err := ev.ID.UnmarshalText([]byte(eventID)); err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	var err error
	if ev.UserID, err = parseNullableID(userID); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if ev.ResolvedBy, err = parseNullableID(resolvedBy); err != nil {
		return nil, fmt.Errorf("parse resolver id: %w", err)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		ev.ResolvedAt = &t
	}
	ev.Type = models.SecurityEventType(eventType)
	ev.Severity = models.Severity(severity)
	if err := unmarshalJSON(metadata, &ev.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return &ev, nil
}

func scanUser(row scanner) (*models.UserEvent, error) {
	var (
		ev        models.UserEvent
		eventID   string
		userID    sql.NullString
		eventType string
		data      []byte
	)
	if err := row.Scan(
		&eventID, &userID, &eventType, &ev.Category, &data,
		&ev.IPAddress, &ev.SessionID, &ev.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan user event: %w", err)
	}
	if err := ev.ID.UnmarshalText([]byte(eventID)); err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	var err error
	if ev.UserID, err = parseNullableID(userID); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	ev.Type = models.UserEventType(eventType)
	if err := unmarshalJSON(data, &ev.Data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return &ev, nil
}

func nullableID(v *id.ActorID) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func parseNullableID(v sql.NullString) (*id.ActorID, error) {
	if !v.Valid {
		return nil, nil
	}
	parsed, err := id.ParseActorID(v.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
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
