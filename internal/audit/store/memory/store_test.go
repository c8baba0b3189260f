package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/audit/models"
	id "warden/pkg/domain"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	base  time.Time
	a, b  id.ActorID
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.base = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	s.a = id.NewActorID()
	s.b = id.NewActorID()
	ctx := context.Background()
	entries := []struct {
		actor  id.ActorID
		action models.Action
		target string
		offset time.Duration
	}{
		{s.a, models.ActionUserBan, "u1", 0},
		{s.a, models.ActionUserSuspend, "u2", time.Minute},
		{s.b, models.ActionUserBan, "u3", 2 * time.Minute},
		{s.a, models.ActionUserBan, "u4", 3 * time.Minute},
	}
	for _, e := range entries {
		s.Require().NoError(s.store.Append(ctx, &models.Entry{
			ID:         id.NewEntryID(),
			ActorID:    e.actor,
			Action:     e.action,
			TargetType: models.TargetUser,
			TargetID:   e.target,
			CreatedAt:  s.base.Add(e.offset),
		}))
	}
}

func (s *StoreSuite) targets(entries []*models.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.TargetID)
	}
	return out
}

func (s *StoreSuite) TestListNewestFirstWithFilters() {
	ctx := context.Background()

	all, err := s.store.List(ctx, models.Filter{})
	s.Require().NoError(err)
	s.Equal([]string{"u4", "u3", "u2", "u1"}, s.targets(all))

	byActor, err := s.store.List(ctx, models.Filter{ActorID: &s.a, Action: models.ActionUserBan})
	s.Require().NoError(err)
	s.Equal([]string{"u4", "u1"}, s.targets(byActor))

	byTarget, err := s.store.List(ctx, models.Filter{TargetType: models.TargetUser, TargetID: "u2"})
	s.Require().NoError(err)
	s.Equal([]string{"u2"}, s.targets(byTarget))

	window, err := s.store.List(ctx, models.Filter{From: s.base.Add(time.Minute), To: s.base.Add(3 * time.Minute)})
	s.Require().NoError(err)
	s.Equal([]string{"u3", "u2"}, s.targets(window))
}

func (s *StoreSuite) TestListPaginates() {
	ctx := context.Background()
	page, err := s.store.List(ctx, models.Filter{Limit: 2, Offset: 1})
	s.Require().NoError(err)
	s.Equal([]string{"u3", "u2"}, s.targets(page))

	past, err := s.store.List(ctx, models.Filter{Limit: 2, Offset: 10})
	s.Require().NoError(err)
	s.Empty(past)
}

func (s *StoreSuite) TestStats() {
	stats, err := s.store.Stats(context.Background(), s.base, s.base.Add(3*time.Minute))
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal([]models.Count{{Key: s.a.String(), Count: 2}, {Key: s.b.String(), Count: 1}}, stats.ByActor)
	s.Equal([]models.Count{{Key: "user.ban", Count: 2}, {Key: "user.suspend", Count: 1}}, stats.ByAction)
}
