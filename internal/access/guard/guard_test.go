package guard

// Justification: the guard is the deny-by-default boundary for every admin
// route. These tests pin the resolution order, the one-event-per-denial rule
// and the rate limit path that runs after an allowed check.

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"warden/internal/access/identity"
	"warden/internal/access/metrics"
	"warden/internal/access/models"
	"warden/internal/access/registry"
	activitymodels "warden/internal/activity/models"
	"warden/internal/activity/severity"
	"warden/internal/ratelimit/limiter"
	ratelimitmw "warden/internal/ratelimit/middleware"
	ratelimitmodels "warden/internal/ratelimit/models"
	id "warden/pkg/domain"
	"warden/pkg/testutil"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []*activitymodels.SecurityEvent
}

func (r *recordingEvents) RecordSecurity(_ context.Context, in activitymodels.SecurityEventInput) (*activitymodels.SecurityEvent, error) {
	sev, _ := severity.Classify(in.Type)
	ev := &activitymodels.SecurityEvent{
		ID:          id.NewEventID(),
		UserID:      in.UserID,
		Type:        in.Type,
		Severity:    sev,
		Description: in.Description,
		Metadata:    in.Metadata,
		CreatedAt:   in.OccurredAt,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return ev, nil
}

func (r *recordingEvents) all() []*activitymodels.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*activitymodels.SecurityEvent(nil), r.events...)
}

type GuardSuite struct {
	suite.Suite
	clock   *testutil.Clock
	events  *recordingEvents
	metrics *metrics.Metrics
	guard   *Guard
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.clock = testutil.NewClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	s.events = &recordingEvents{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.guard = New(registry.Default(), s.events,
		WithClock(s.clock.Now),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *GuardSuite) TestDenyByDefaultForUnregisteredPermission() {
	unknown := models.Permission("listings.delete_everything")
	for _, def := range registry.Default().Roles() {
		actor := testutil.NewActor(def.Role).WithGrant(unknown, nil).Build()
		d := s.guard.Check(context.Background(), actor, unknown)
		s.False(d.Allowed, "role %s", def.Role)
		s.Equal(ReasonNotPermitted, d.Reason)
	}
	s.Len(s.events.all(), len(registry.Default().Roles()))
}

func (s *GuardSuite) TestResolutionOrder() {
	now := s.clock.Now()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Minute)

	cases := []struct {
		name     string
		actor    *models.Actor
		perm     models.Permission
		allowed  bool
		reason   DenyReason
		via      string
		event    activitymodels.SecurityEventType
		severity activitymodels.Severity
	}{
		{
			name:     "banned beats role",
			actor:    testutil.NewActor(models.RoleSuperAdmin).Banned("fraud").Build(),
			perm:     models.PermUsersView,
			reason:   ReasonBanned,
			event:    activitymodels.EventUnauthorizedAccessAttempt,
			severity: activitymodels.SeverityHigh,
		},
		{
			name:     "active suspension beats role",
			actor:    testutil.NewActor(models.RoleAdmin).Suspended("spam", &later).Build(),
			perm:     models.PermUsersView,
			reason:   ReasonSuspended,
			event:    activitymodels.EventSuspendedAccessAttempt,
			severity: activitymodels.SeverityMedium,
		},
		{
			name:    "expired suspension reads as active",
			actor:   testutil.NewActor(models.RoleAdmin).Suspended("spam", &earlier).Build(),
			perm:    models.PermUsersView,
			allowed: true,
			via:     "role",
		},
		{
			name:    "role base set",
			actor:   testutil.NewActor(models.RoleModerator).Build(),
			perm:    models.PermUsersSuspend,
			allowed: true,
			via:     "role",
		},
		{
			name:    "direct grant",
			actor:   testutil.NewActor(models.RoleSupport).WithGrant(models.PermUsersBan, &later).Build(),
			perm:    models.PermUsersBan,
			allowed: true,
			via:     "grant",
		},
		{
			name:     "grant expiring now is inactive",
			actor:    testutil.NewActor(models.RoleSupport).WithGrant(models.PermUsersBan, &now).Build(),
			perm:     models.PermUsersBan,
			reason:   ReasonNotPermitted,
			event:    activitymodels.EventPermissionDenied,
			severity: activitymodels.SeverityHigh,
		},
		{
			name:     "nothing matches",
			actor:    testutil.NewActor(models.RoleSupport).Build(),
			perm:     models.PermUsersBan,
			reason:   ReasonNotPermitted,
			event:    activitymodels.EventPermissionDenied,
			severity: activitymodels.SeverityHigh,
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.events = &recordingEvents{}
			s.guard.events = s.events

			d := s.guard.Check(context.Background(), tc.actor, tc.perm)

			s.Equal(tc.allowed, d.Allowed)
			s.Equal(tc.reason, d.Reason)
			s.Equal(tc.via, d.Via)
			events := s.events.all()
			if tc.allowed {
				s.Empty(events, "allowed checks write nothing")
				return
			}
			s.Require().Len(events, 1)
			s.Equal(tc.event, events[0].Type)
			s.Equal(tc.severity, events[0].Severity)
			s.Equal(tc.actor.ID, *events[0].UserID)
			s.Equal(string(tc.perm), events[0].Metadata["permission"])
		})
	}
}

func (s *GuardSuite) TestCheckLevel() {
	top := s.guard.TopLevel()

	d := s.guard.CheckLevel(context.Background(), testutil.NewActor(models.RoleSuperAdmin).Build(), top)
	s.True(d.Allowed)

	d = s.guard.CheckLevel(context.Background(), testutil.NewActor(models.RoleAdmin).Build(), top)
	s.False(d.Allowed)
	s.Equal(ReasonLevelTooLow, d.Reason)

	events := s.events.all()
	s.Require().Len(events, 1)
	s.Equal(activitymodels.EventPermissionDenied, events[0].Type)
	s.Equal(top, events[0].Metadata["required_level"])
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Decisions.WithLabelValues("denied", "level_too_low")))
}

func (s *GuardSuite) request(h http.Handler, actor *models.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/users/x/ban", nil)
	if actor != nil {
		req = req.WithContext(identity.WithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func (s *GuardSuite) TestRequireWritesGenericDenial() {
	called := false
	h := s.guard.Require(models.PermUsersBan)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	rec := s.request(h, testutil.NewActor(models.RoleSupport).Build())

	s.False(called)
	s.Equal(http.StatusForbidden, rec.Code)
	var body map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal(map[string]string{"error": "forbidden", "error_description": "access denied"}, body)
	s.NotContains(rec.Body.String(), "users.ban")

	s.Equal(http.StatusUnauthorized, s.request(h, nil).Code)
}

func (s *GuardSuite) TestRequireThrottlesAllowedActors() {
	l := limiter.New(ratelimitmodels.Config{Limit: 2, Window: time.Minute}, limiter.WithClock(s.clock.Now))
	s.guard.limiter = l
	h := s.guard.RequireLevel(0)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	actor := testutil.NewActor(models.RoleSupport).Build()

	s.Equal(http.StatusNoContent, s.request(h, actor).Code)
	s.Equal(http.StatusNoContent, s.request(h, actor).Code)
	rec := s.request(h, actor)

	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("60", rec.Header().Get("Retry-After"))
	events := s.events.all()
	s.Require().Len(events, 1)
	s.Equal(activitymodels.EventRateLimitExceeded, events[0].Type)
	s.Equal(activitymodels.SeverityMedium, events[0].Severity)
}

func (s *GuardSuite) TestChainedChecksChargeTheWindowOnce() {
	l := limiter.New(ratelimitmodels.Config{Limit: 10, Window: time.Minute}, limiter.WithClock(s.clock.Now))
	s.guard.limiter = l
	final := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := s.guard.Require(models.PermUsersBan)(s.guard.RequireLevel(s.guard.TopLevel())(final))
	actor := testutil.NewActor(models.RoleSuperAdmin).Build()

	rec := s.request(h, actor)

	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal("9", rec.Header().Get("X-RateLimit-Remaining"))
	res, err := l.Allow(context.Background(), ratelimitmw.ActorKey(actor.ID.String()))
	s.Require().NoError(err)
	s.Equal(8, res.Remaining, "one request consumed exactly one slot")
}

func (s *GuardSuite) TestChainedLevelCheckStillDeniesAfterThrottle() {
	s.guard.limiter = limiter.New(ratelimitmodels.Config{Limit: 10, Window: time.Minute}, limiter.WithClock(s.clock.Now))
	called := false
	final := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { called = true })
	h := s.guard.Require(models.PermUsersBan)(s.guard.RequireLevel(s.guard.TopLevel())(final))

	rec := s.request(h, testutil.NewActor(models.RoleAdmin).Build())

	s.False(called)
	s.Equal(http.StatusForbidden, rec.Code)
}
