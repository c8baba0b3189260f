// Package memory holds daily metrics in process.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"warden/internal/analytics/models"
)

type Store struct {
	mu   sync.RWMutex
	rows map[string]models.DailyMetric
}

func New() *Store {
	return &Store{rows: make(map[string]models.DailyMetric)}
}

// ReplaceMetric makes rows the complete set for (date, name). Rows sharing a
// key collapse to the last one.
func (s *Store) ReplaceMetric(_ context.Context, date time.Time, name string, rows []models.DailyMetric) error {
	day := models.Day(date)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.rows {
		if r.Name == name && r.Date.Equal(day) {
			delete(s.rows, k)
		}
	}
	for _, r := range rows {
		r.Date = models.Day(r.Date)
		r.Dimensions = maps.Clone(r.Dimensions)
		if r.Dimensions == nil {
			r.Dimensions = map[string]string{}
		}
		s.rows[r.Key()] = r
	}
	return nil
}

// List returns rows ordered by date, then name, then dimensions.
func (s *Store) List(_ context.Context, f models.ListFilter) ([]models.DailyMetric, error) {
	s.mu.RLock()
	out := make([]models.DailyMetric, 0)
	for _, r := range s.rows {
		if f.Name != "" && r.Name != f.Name {
			continue
		}
		if !f.From.IsZero() && r.Date.Before(models.Day(f.From)) {
			continue
		}
		if !f.To.IsZero() && r.Date.After(models.Day(f.To)) {
			continue
		}
		if f.UndimensionedOnly && len(r.Dimensions) > 0 {
			continue
		}
		r.Dimensions = maps.Clone(r.Dimensions)
		out = append(out, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.DailyMetric) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(models.DimensionsKey(a.Dimensions), models.DimensionsKey(b.Dimensions))
	})
	return out, nil
}

func (s *Store) LatestDate(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, r := range s.rows {
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	return latest, !latest.IsZero(), nil
}
