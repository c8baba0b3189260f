package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/activity/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

func failedLogin(user *id.ActorID, ip string, at time.Time) *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:        id.NewEventID(),
		UserID:    user,
		Type:      models.EventFailedLogin,
		Severity:  models.SeverityMedium,
		IPAddress: ip,
		CreatedAt: at,
	}
}

func TestCountSecurityEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	user := id.NewActorID()

	for n := range 4 {
		require.NoError(t, s.AppendSecurity(ctx, failedLogin(&user, "198.51.100.1", base.Add(time.Duration(n)*time.Minute))))
	}
	require.NoError(t, s.AppendSecurity(ctx, failedLogin(nil, "198.51.100.1", base)))

	t.Run("window excludes its lower bound", func(t *testing.T) {
		n, err := s.CountSecurityEvents(ctx, models.CountQuery{
			Type: models.EventFailedLogin, UserID: &user,
			After: base, Until: base.Add(3 * time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("ip identity ignores events with a user", func(t *testing.T) {
		n, err := s.CountSecurityEvents(ctx, models.CountQuery{
			Type: models.EventFailedLogin, IPAddress: "198.51.100.1",
			After: base.Add(-time.Minute), Until: base.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestAppendSecurityRejectsDuplicate(t *testing.T) {
	s := New()
	ev := failedLogin(nil, "203.0.113.2", time.Now())
	require.NoError(t, s.AppendSecurity(context.Background(), ev))
	assert.ErrorIs(t, s.AppendSecurity(context.Background(), ev), sentinel.ErrAlreadyExists)
}

func TestResolveSecurity(t *testing.T) {
	ctx := context.Background()
	s := New()
	ev := failedLogin(nil, "203.0.113.2", time.Now())
	require.NoError(t, s.AppendSecurity(ctx, ev))
	resolver := id.NewActorID()
	at := time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC)

	got, err := s.ResolveSecurity(ctx, ev.ID, resolver, at)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, resolver, *got.ResolvedBy)
	assert.Equal(t, at, *got.ResolvedAt)

	_, err = s.ResolveSecurity(ctx, ev.ID, resolver, at)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	_, err = s.ResolveSecurity(ctx, id.NewEventID(), resolver, at)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestListSecurityFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	for n := range 5 {
		require.NoError(t, s.AppendSecurity(ctx, failedLogin(nil, "203.0.113.2", base.Add(time.Duration(n)*time.Hour))))
	}
	high := models.SeverityHigh
	require.NoError(t, s.AppendSecurity(ctx, &models.SecurityEvent{
		ID: id.NewEventID(), Type: models.EventPermissionDenied, Severity: high, CreatedAt: base,
	}))

	page, err := s.ListSecurity(ctx, models.SecurityFilter{Type: models.EventFailedLogin, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, base.Add(3*time.Hour), page[0].CreatedAt)
	assert.Equal(t, base.Add(2*time.Hour), page[1].CreatedAt)

	bySeverity, err := s.ListSecurity(ctx, models.SecurityFilter{Severity: &high})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
	assert.Equal(t, models.EventPermissionDenied, bySeverity[0].Type)

	ranged, err := s.ListSecurity(ctx, models.SecurityFilter{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)
}

func TestUserEventAggregates(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice, bob := id.NewActorID(), id.NewActorID()
	day := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	end := day.Add(24 * time.Hour)

	for _, ev := range []*models.UserEvent{
		{UserID: &alice, Type: models.UserLoggedIn, Category: "auth", CreatedAt: day.Add(time.Hour)},
		{UserID: &alice, Type: models.ListingCreated, Category: "listing", CreatedAt: day.Add(2 * time.Hour)},
		{UserID: &bob, Type: models.ListingViewed, Category: "listing", CreatedAt: day.Add(3 * time.Hour)},
		{Type: models.PageViewed, Category: "navigation", CreatedAt: day.Add(4 * time.Hour)},
		{UserID: &bob, Type: models.ListingCreated, Category: "listing", CreatedAt: end},
	} {
		ev.ID = id.NewEventID()
		require.NoError(t, s.AppendUser(ctx, ev))
	}

	n, err := s.CountUserEvents(ctx, models.ListingCreated, day, end)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountDistinctUsers(ctx, nil, day, end)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountDistinctUsers(ctx, []models.UserEventType{models.ListingCreated}, day, end)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	byCategory, err := s.CountUserEventsByCategory(ctx, day, end)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"auth": 1, "listing": 2, "navigation": 1}, byCategory)

	timeline, err := s.ListUserEvents(ctx, bob, 1)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, end, timeline[0].CreatedAt)
}
