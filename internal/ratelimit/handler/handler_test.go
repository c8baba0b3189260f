package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/access/identity"
	accessmodels "warden/internal/access/models"
	auditmodels "warden/internal/audit/models"
	auditservice "warden/internal/audit/service"
	auditmemory "warden/internal/audit/store/memory"
	"warden/internal/ratelimit/limiter"
	"warden/internal/ratelimit/models"
	id "warden/pkg/domain"
	"warden/pkg/testutil"
)

type asActor struct {
	actor *accessmodels.Actor
}

func (a asActor) Require(accessmodels.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), a.actor)))
		})
	}
}

type brokenResetter struct{}

func (brokenResetter) Reset(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestHandleReset(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	l := limiter.New(models.Config{Limit: 1, Window: time.Minute}, limiter.WithClock(clock.Now))
	auditStore := auditmemory.New()
	admin := testutil.NewActor(accessmodels.RoleAdmin).Build()

	r := chi.NewRouter()
	New(l, auditservice.New(auditStore, auditservice.WithLogger(logger)), logger).Register(r, asActor{actor: admin})

	target := id.NewActorID()
	key := "actor:" + target.String()
	ctx := context.Background()
	_, err := l.Allow(ctx, key)
	require.NoError(t, err)
	res, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rate-limit/reset/"+target.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body models.ResetResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, models.ResetResponse{Key: key, Reset: true}, body)

	res, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "window starts fresh after reset")

	entries, err := auditStore.List(ctx, auditmodels.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, auditmodels.ActionRateLimitReset, entries[0].Action)
	assert.Equal(t, admin.ID, entries[0].ActorID)
	assert.Equal(t, target.String(), entries[0].TargetID)
	assert.Equal(t, map[string]any{"window_active": true}, entries[0].Before)
	assert.Equal(t, map[string]any{"window_active": false}, entries[0].After)
}

func TestHandleResetWithoutWindowRecordsInactiveBefore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := limiter.New(models.Config{Limit: 5, Window: time.Minute})
	auditStore := auditmemory.New()
	admin := testutil.NewActor(accessmodels.RoleAdmin).Build()

	r := chi.NewRouter()
	New(l, auditservice.New(auditStore, auditservice.WithLogger(logger)), logger).Register(r, asActor{actor: admin})

	target := id.NewActorID()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rate-limit/reset/"+target.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err := auditStore.List(context.Background(), auditmodels.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"window_active": false}, entries[0].Before)
}

func TestHandleResetErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditStore := auditmemory.New()
	admin := testutil.NewActor(accessmodels.RoleAdmin).Build()

	r := chi.NewRouter()
	New(brokenResetter{}, auditservice.New(auditStore, auditservice.WithLogger(logger)), logger).Register(r, asActor{actor: admin})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rate-limit/reset/"+id.NewActorID().String(), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rate-limit/reset/bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, auditStore.Len())
}
