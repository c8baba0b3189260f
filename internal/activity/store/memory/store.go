// Package memory keeps security and user events in process. It backs tests
// and single-node deployments without a database.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"warden/internal/activity/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	security []*models.SecurityEvent
	index    map[id.EventID]int
	user     []*models.UserEvent
}

func New() *Store {
	return &Store{index: make(map[id.EventID]int)}
}

func (s *Store) AppendSecurity(_ context.Context, ev *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[ev.ID]; exists {
		return fmt.Errorf("security event %s: %w", ev.ID, sentinel.ErrAlreadyExists)
	}
	cp := *ev
	s.index[ev.ID] = len(s.security)
	s.security = append(s.security, &cp)
	return nil
}

func (s *Store) AppendUser(_ context.Context, ev *models.UserEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.user = append(s.user, &cp)
	return nil
}

// CountSecurityEvents counts events of q.Type for q's identity with
// After < created_at <= Until. A user id takes precedence over the IP.
func (s *Store) CountSecurityEvents(_ context.Context, q models.CountQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.security {
		if ev.Type != q.Type || !ev.CreatedAt.After(q.After) || ev.CreatedAt.After(q.Until) {
			continue
		}
		if q.UserID != nil {
			if ev.UserID == nil || *ev.UserID != *q.UserID {
				continue
			}
		} else if ev.UserID != nil || ev.IPAddress != q.IPAddress {
			continue
		}
		n++
	}
	return n, nil
}

// ListSecurity returns matching events newest first.
func (s *Store) ListSecurity(_ context.Context, f models.SecurityFilter) ([]*models.SecurityEvent, error) {
	s.mu.RLock()
	out := make([]*models.SecurityEvent, 0)
	for _, ev := range s.security {
		if matchesSecurity(ev, f) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b *models.SecurityEvent) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})
	return paginate(out, f.Offset, f.Limit), nil
}

func (s *Store) GetSecurity(_ context.Context, eventID id.EventID) (*models.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[eventID]
	if !ok {
		return nil, fmt.Errorf("security event %s: %w", eventID, sentinel.ErrNotFound)
	}
	cp := *s.security[i]
	return &cp, nil
}

// ResolveSecurity marks an event resolved. Resolving twice returns ErrInvalidState.
func (s *Store) ResolveSecurity(_ context.Context, eventID id.EventID, resolver id.ActorID, at time.Time) (*models.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[eventID]
	if !ok {
		return nil, fmt.Errorf("security event %s: %w", eventID, sentinel.ErrNotFound)
	}
	if s.security[i].Resolved {
		return nil, fmt.Errorf("security event %s already resolved: %w", eventID, sentinel.ErrInvalidState)
	}
	next := *s.security[i]
	next.Resolved = true
	next.ResolvedBy = &resolver
	next.ResolvedAt = &at
	s.security[i] = &next
	cp := next
	return &cp, nil
}

// ListUserEvents returns a user's events newest first.
func (s *Store) ListUserEvents(_ context.Context, userID id.ActorID, limit int) ([]*models.UserEvent, error) {
	s.mu.RLock()
	out := make([]*models.UserEvent, 0)
	for _, ev := range s.user {
		if ev.UserID != nil && *ev.UserID == userID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b *models.UserEvent) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return paginate(out, 0, limit), nil
}

// CountUserEvents counts events of t with from <= created_at < to.
func (s *Store) CountUserEvents(_ context.Context, t models.UserEventType, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.user {
		if ev.Type == t && inRange(ev.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

// CountDistinctUsers counts distinct user ids among events in [from, to).
// An empty types list matches every type.
func (s *Store) CountDistinctUsers(_ context.Context, types []models.UserEventType, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[id.ActorID]struct{})
	for _, ev := range s.user {
		if ev.UserID == nil || !inRange(ev.CreatedAt, from, to) {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, ev.Type) {
			continue
		}
		seen[*ev.UserID] = struct{}{}
	}
	return len(seen), nil
}

// CountUserEventsByCategory groups events in [from, to) by category.
func (s *Store) CountUserEventsByCategory(_ context.Context, from, to time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, ev := range s.user {
		if inRange(ev.CreatedAt, from, to) {
			out[ev.Category]++
		}
	}
	return out, nil
}

// CountSecurityInRange counts events of t with from <= created_at < to.
func (s *Store) CountSecurityInRange(_ context.Context, t models.SecurityEventType, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.security {
		if ev.Type == t && inRange(ev.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func matchesSecurity(ev *models.SecurityEvent, f models.SecurityFilter) bool {
	if f.Severity != nil && ev.Severity != *f.Severity {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.UserID != nil && (ev.UserID == nil || *ev.UserID != *f.UserID) {
		return false
	}
	if f.Resolved != nil && ev.Resolved != *f.Resolved {
		return false
	}
	if !f.From.IsZero() && ev.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ev.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
