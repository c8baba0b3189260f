package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/activity/models"
	"warden/internal/activity/store/memory"
	auditmodels "warden/internal/audit/models"
	auditservice "warden/internal/audit/service"
	auditmemory "warden/internal/audit/store/memory"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store      *memory.Store
	auditStore *auditmemory.Store
	service    *Service
	now        time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)
	s.store = memory.New()
	s.auditStore = auditmemory.New()
	recorder := auditservice.New(s.auditStore, auditservice.WithLogger(logger))
	s.service = New(s.store, recorder, WithLogger(logger), WithClock(func() time.Time { return s.now }))
}

func (s *ServiceSuite) seedSecurity(n int) []*models.SecurityEvent {
	out := make([]*models.SecurityEvent, 0, n)
	for i := range n {
		ev := &models.SecurityEvent{
			ID:        id.NewEventID(),
			Type:      models.EventPermissionDenied,
			Severity:  models.SeverityHigh,
			IPAddress: "203.0.113.5",
			CreatedAt: s.now.Add(-time.Duration(i) * time.Minute),
		}
		s.Require().NoError(s.store.AppendSecurity(context.Background(), ev))
		out = append(out, ev)
	}
	return out
}

func (s *ServiceSuite) TestResolveRecordsAuditEntry() {
	ev := s.seedSecurity(1)[0]
	resolver := id.NewActorID()
	ctx := requestcontext.WithRequestID(context.Background(), "req-7")

	got, err := s.service.Resolve(ctx, ev.ID, resolver)
	s.Require().NoError(err)
	s.True(got.Resolved)
	s.Equal(s.now, *got.ResolvedAt)

	entries, err := s.auditStore.List(context.Background(), auditmodels.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(auditmodels.ActionSecurityResolve, entries[0].Action)
	s.Equal(ev.ID.String(), entries[0].TargetID)
	s.Equal(resolver, entries[0].ActorID)
	s.Equal(map[string]any{"resolved": false}, entries[0].Before)
	s.Equal(true, entries[0].After["resolved"])
}

func (s *ServiceSuite) TestResolveTwiceConflicts() {
	ev := s.seedSecurity(1)[0]
	resolver := id.NewActorID()

	_, err := s.service.Resolve(context.Background(), ev.ID, resolver)
	s.Require().NoError(err)
	_, err = s.service.Resolve(context.Background(), ev.ID, resolver)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(1, s.auditStore.Len())
}

func (s *ServiceSuite) TestResolveUnknownEvent() {
	_, err := s.service.Resolve(context.Background(), id.NewEventID(), id.NewActorID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Zero(s.auditStore.Len())
}

func (s *ServiceSuite) TestGetRecentSecurityPages() {
	events := s.seedSecurity(3)

	page, err := s.service.GetRecentSecurity(context.Background(), models.SecurityFilter{Limit: 2})
	s.Require().NoError(err)
	s.True(page.HasMore)
	s.Require().Len(page.Events, 2)
	s.Equal(events[0].ID, page.Events[0].ID)

	page, err = s.service.GetRecentSecurity(context.Background(), models.SecurityFilter{Limit: 2, Offset: 2})
	s.Require().NoError(err)
	s.False(page.HasMore)
	s.Len(page.Events, 1)
}

func (s *ServiceSuite) TestGetRecentSecurityRejectsInvertedRange() {
	_, err := s.service.GetRecentSecurity(context.Background(), models.SecurityFilter{From: s.now, To: s.now.Add(-time.Hour)})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestGetTimeline() {
	user := id.NewActorID()
	for i := range 3 {
		s.Require().NoError(s.store.AppendUser(context.Background(), &models.UserEvent{
			ID:        id.NewEventID(),
			UserID:    &user,
			Type:      models.PageViewed,
			Category:  "navigation",
			CreatedAt: s.now.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := s.service.GetTimeline(context.Background(), user, 2)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(s.now.Add(2*time.Second), events[0].CreatedAt)

	_, err = s.service.GetTimeline(context.Background(), id.ActorID{}, 10)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
