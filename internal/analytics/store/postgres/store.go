// Package postgres persists daily metrics, upserting on (date, metric_name, dimensions).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"warden/internal/analytics/models"
	"warden/internal/platform/database"
)

const table = "daily_metrics"

type Store struct {
	pool *database.Pool
	qb   sq.StatementBuilderType
}

func New(pool *database.Pool) *Store {
	return &Store{pool: pool, qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// ReplaceMetric deletes the day's rows for name and upserts rows in one
// transaction, so readers never observe a half-written metric.
func (s *Store) ReplaceMetric(ctx context.Context, date time.Time, name string, rows []models.DailyMetric) error {
	day := models.Day(date)
	return s.pool.WithTx(ctx, func(tx *sql.Tx) error {
		del, args, err := s.qb.Delete(table).
			Where(sq.Eq{"date": day, "metric_name": name}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return fmt.Errorf("delete %s rows: %w", name, err)
		}
		if len(rows) == 0 {
			return nil
		}

		ins := s.qb.Insert(table).Columns("date", "metric_name", "dimensions", "value")
		for _, r := range rows {
			ins = ins.Values(models.Day(r.Date), r.Name, models.DimensionsKey(r.Dimensions), r.Value)
		}
		query, args, err := ins.
			Suffix("ON CONFLICT ON CONSTRAINT daily_metrics_unique DO UPDATE SET value = EXCLUDED.value").
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s rows: %w", name, err)
		}
		return nil
	})
}

// List returns rows ordered by date, then name, then dimensions.
func (s *Store) List(ctx context.Context, f models.ListFilter) ([]models.DailyMetric, error) {
	q := s.qb.Select("date", "metric_name", "dimensions", "value").
		From(table).
		OrderBy("date ASC", "metric_name ASC", "dimensions::text ASC")
	if f.Name != "" {
		q = q.Where(sq.Eq{"metric_name": f.Name})
	}
	if !f.From.IsZero() {
		q = q.Where(sq.GtOrEq{"date": models.Day(f.From)})
	}
	if !f.To.IsZero() {
		q = q.Where(sq.LtOrEq{"date": models.Day(f.To)})
	}
	if f.UndimensionedOnly {
		q = q.Where(sq.Expr("dimensions = '{}'::jsonb"))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	defer rows.Close()

	out := make([]models.DailyMetric, 0)
	for rows.Next() {
		var (
			m    models.DailyMetric
			dims []byte
		)
		if err := rows.Scan(&m.Date, &m.Name, &dims, &m.Value); err != nil {
			return nil, fmt.Errorf("scan daily metric: %w", err)
		}
		m.Date = models.Day(m.Date)
		m.Dimensions = map[string]string{}
		if len(dims) > 0 {
			if err := json.Unmarshal(dims, &m.Dimensions); err != nil {
				return nil, fmt.Errorf("decode dimensions: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily metrics: %w", err)
	}
	return out, nil
}

func (s *Store) LatestDate(ctx context.Context) (time.Time, bool, error) {
	query, args, err := s.qb.Select("MAX(date)").From(table).ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build select: %w", err)
	}
	var latest sql.NullTime
	if err := s.pool.DB().QueryRowContext(ctx, query, args...).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return models.Day(latest.Time), true, nil
}
