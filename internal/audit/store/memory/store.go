// Package memory is an in-process audit store for tests and single-node runs.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"warden/internal/audit/models"
)

// Store keeps entries in insertion order. There is no update or delete.
type Store struct {
	mu      sync.RWMutex
	entries []*models.Entry
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

// List returns matching entries newest first, ties broken by ID descending.
func (s *Store) List(_ context.Context, f models.Filter) ([]*models.Entry, error) {
	s.mu.RLock()
	matched := make([]*models.Entry, 0)
	for _, e := range s.entries {
		if matches(e, f) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *models.Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})

	if f.Offset >= len(matched) {
		return []*models.Entry{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Stats counts entries with from <= created_at < to.
func (s *Store) Stats(_ context.Context, from, to time.Time) (*models.Stats, error) {
	byActor := map[string]int{}
	byAction := map[string]int{}
	total := 0

	s.mu.RLock()
	for _, e := range s.entries {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		total++
		byActor[e.ActorID.String()]++
		byAction[e.Action.String()]++
	}
	s.mu.RUnlock()

	return &models.Stats{
		From:     from,
		To:       to,
		Total:    total,
		ByActor:  sortedCounts(byActor),
		ByAction: sortedCounts(byAction),
	}, nil
}

// Len reports how many entries have been appended.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func matches(e *models.Entry, f models.Filter) bool {
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.TargetType != "" && e.TargetType != f.TargetType {
		return false
	}
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// sortedCounts orders by count descending, then key ascending.
func sortedCounts(m map[string]int) []models.Count {
	out := make([]models.Count, 0, len(m))
	for k, n := range m {
		out = append(out, models.Count{Key: k, Count: n})
	}
	slices.SortFunc(out, func(a, b models.Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}
