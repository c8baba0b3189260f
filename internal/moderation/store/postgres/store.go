// Package postgres persists actors and their direct permission grants.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	accessmodels "warden/internal/access/models"
	"warden/internal/platform/database"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

const (
	actorsTable = "actors"
	grantsTable = "actor_permission_grants"
)

var actorColumns = []string{
	"id", "role", "is_banned", "ban_reason",
	"is_suspended", "suspension_reason", "suspended_until", "updated_at",
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Store struct {
	pool *database.Pool
	qb   sq.StatementBuilderType
}

func New(pool *database.Pool) *Store {
	return &Store{pool: pool, qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (s *Store) Create(ctx context.Context, actor *accessmodels.Actor) error {
	return s.pool.WithTx(ctx, func(tx *sql.Tx) error {
		query, args, err := s.qb.Insert(actorsTable).
			Columns(actorColumns...).
			Values(actorValues(actor)...).
			Suffix("ON CONFLICT (id) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert actor: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("actor %s: %w", actor.ID, sentinel.ErrAlreadyExists)
		}
		return s.writeGrants(ctx, tx, actor)
	})
}

func (s *Store) GetActor(ctx context.Context, actorID id.ActorID) (*accessmodels.Actor, error) {
	return s.load(ctx, s.pool.DB(), actorID, false)
}

// Update locks the actor row, applies fn and writes the actor and its grant
// set back in the same transaction.
func (s *Store) Update(ctx context.Context, actorID id.ActorID, fn func(*accessmodels.Actor) error) (*accessmodels.Actor, error) {
	var out *accessmodels.Actor
	err := s.pool.WithTx(ctx, func(tx *sql.Tx) error {
		actor, err := s.load(ctx, tx, actorID, true)
		if err != nil {
			return err
		}
		if err := fn(actor); err != nil {
			return err
		}

		query, args, err := s.qb.Update(actorsTable).
			SetMap(map[string]any{
				"role":              string(actor.Role),
				"is_banned":         actor.Banned,
				"ban_reason":        actor.BanReason,
				"is_suspended":      actor.Suspended,
				"suspension_reason": actor.SuspensionReason,
				"suspended_until":   actor.SuspendedUntil,
				"updated_at":        actor.UpdatedAt,
			}).
			Where(sq.Eq{"id": actorID.String()}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update actor: %w", err)
		}

		del, args, err := s.qb.Delete(grantsTable).Where(sq.Eq{"actor_id": actorID.String()}).ToSql()
		if err != nil {
			return fmt.Errorf("build grant delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		if err := s.writeGrants(ctx, tx, actor); err != nil {
			return err
		}
		out = actor
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) load(ctx context.Context, q queryer, actorID id.ActorID, forUpdate bool) (*accessmodels.Actor, error) {
	sel := s.qb.Select(actorColumns...).From(actorsTable).Where(sq.Eq{"id": actorID.String()})
	if forUpdate {
		sel = sel.Suffix("FOR UPDATE")
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var (
		a       accessmodels.Actor
		rawID   string
		role    string
		until   sql.NullTime
		updated time.Time
	)
	err = q.QueryRowContext(ctx, query, args...).Scan(
		&rawID, &role, &a.Banned, &a.BanReason,
		&a.Suspended, &a.SuspensionReason, &until, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("actor %s: %w", actorID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query actor: %w", err)
	}
	if a.ID, err = id.ParseActorID(rawID); err != nil {
		return nil, fmt.Errorf("parse actor id: %w", err)
	}
	a.Role = accessmodels.Role(role)
	a.UpdatedAt = updated.UTC()
	if until.Valid {
		t := until.Time.UTC()
		a.SuspendedUntil = &t
	}

	grants, err := s.loadGrants(ctx, q, actorID)
	if err != nil {
		return nil, err
	}
	a.Grants = grants
	return &a, nil
}

func (s *Store) loadGrants(ctx context.Context, q queryer, actorID id.ActorID) ([]accessmodels.Grant, error) {
	query, args, err := s.qb.Select("permission", "granted_by", "granted_at", "expires_at").
		From(grantsTable).
		Where(sq.Eq{"actor_id": actorID.String()}).
		OrderBy("permission ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build grant select: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var grants []accessmodels.Grant
	for rows.Next() {
		var (
			g       accessmodels.Grant
			perm    string
			by      string
			expires sql.NullTime
		)
		if err := rows.Scan(&perm, &by, &g.GrantedAt, &expires); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.Permission = accessmodels.Permission(perm)
		if g.GrantedBy, err = id.ParseActorID(by); err != nil {
			return nil, fmt.Errorf("parse granted_by: %w", err)
		}
		g.GrantedAt = g.GrantedAt.UTC()
		if expires.Valid {
			t := expires.Time.UTC()
			g.ExpiresAt = &t
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}

func (s *Store) writeGrants(ctx context.Context, q queryer, actor *accessmodels.Actor) error {
	if len(actor.Grants) == 0 {
		return nil
	}
	ins := s.qb.Insert(grantsTable).Columns("actor_id", "permission", "granted_by", "granted_at", "expires_at")
	for _, g := range actor.Grants {
		ins = ins.Values(actor.ID.String(), string(g.Permission), g.GrantedBy.String(), g.GrantedAt, g.ExpiresAt)
	}
	query, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build grant insert: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert grants: %w", err)
	}
	return nil
}

func actorValues(a *accessmodels.Actor) []any {
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return []any{
		a.ID.String(), string(a.Role), a.Banned, a.BanReason,
		a.Suspended, a.SuspensionReason, a.SuspendedUntil, updated,
	}
}
