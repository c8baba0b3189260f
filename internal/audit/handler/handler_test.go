package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accessmodels "warden/internal/access/models"
	"warden/internal/audit/models"
	"warden/internal/audit/service"
	"warden/internal/audit/store/memory"
	id "warden/pkg/domain"
	"warden/pkg/requestcontext"
)

type passthrough struct {
	required []accessmodels.Permission
}

func (p *passthrough) Require(perm accessmodels.Permission) func(http.Handler) http.Handler {
	p.required = append(p.required, perm)
	return func(next http.Handler) http.Handler { return next }
}

func newRouter(t *testing.T) (chi.Router, *service.Service, *passthrough) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(memory.New(), service.WithLogger(logger))
	auth := &passthrough{}
	r := chi.NewRouter()
	New(svc, logger).Register(r, auth)
	return r, svc, auth
}

func record(t *testing.T, svc *service.Service, actor id.ActorID, action models.Action, target string, at time.Time) {
	t.Helper()
	ctx := requestcontext.WithTime(context.Background(), at)
	_, err := svc.Record(ctx, models.RecordInput{
		ActorID:    actor,
		Action:     action,
		TargetType: models.TargetUser,
		TargetID:   target,
	})
	require.NoError(t, err)
}

func TestList(t *testing.T) {
	r, svc, auth := newRouter(t)
	assert.Equal(t, []accessmodels.Permission{accessmodels.PermAuditView}, auth.required)

	actor, other := id.NewActorID(), id.NewActorID()
	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	record(t, svc, actor, models.ActionUserBan, "u1", base)
	record(t, svc, actor, models.ActionUserSuspend, "u2", base.Add(time.Minute))
	record(t, svc, other, models.ActionUserBan, "u3", base.Add(2*time.Minute))

	t.Run("filters by actor newest first", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit-logs?actor="+actor.String(), nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var page models.Page
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
		require.Len(t, page.Entries, 2)
		assert.Equal(t, "u2", page.Entries[0].TargetID)
		assert.False(t, page.HasMore)
	})

	t.Run("pages with page and limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit-logs?page=2&limit=2", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var page models.Page
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "u1", page.Entries[0].TargetID)
		assert.Equal(t, 2, page.Offset)
	})

	t.Run("target filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit-logs?targetType=user&targetId=u3", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var page models.Page
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
		require.Len(t, page.Entries, 1)
		assert.Equal(t, other, page.Entries[0].ActorID)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, target := range []string{
			"/admin/audit-logs?actor=nope",
			"/admin/audit-logs?from=last-week",
			"/admin/audit-logs?targetId=u1",
		} {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		}
	})
}

func TestStats(t *testing.T) {
	r, svc, _ := newRouter(t)
	actor := id.NewActorID()
	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	record(t, svc, actor, models.ActionUserBan, "u1", base)
	record(t, svc, actor, models.ActionUserBan, "u2", base.Add(time.Minute))
	record(t, svc, actor, models.ActionUserSuspend, "u3", base.Add(2*time.Minute))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit-logs/stats?from=2026-04-02&to=2026-04-03", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 3, stats.Total)
	require.Len(t, stats.ByAction, 2)
	assert.Equal(t, models.Count{Key: "user.ban", Count: 2}, stats.ByAction[0])
	require.Len(t, stats.ByActor, 1)
	assert.Equal(t, actor.String(), stats.ByActor[0].Key)
}
