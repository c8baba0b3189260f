// Package handler exposes the admin reset of an actor's rate limit window.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"warden/internal/access/identity"
	accessmodels "warden/internal/access/models"
	auditmodels "warden/internal/audit/models"
	ratelimitmw "warden/internal/ratelimit/middleware"
	"warden/internal/ratelimit/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

// Resetter clears a window and reports whether one was active.
type Resetter interface {
	Reset(ctx context.Context, key string) (bool, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, in auditmodels.RecordInput) (id.EntryID, error)
}

type Authorizer interface {
	Require(p accessmodels.Permission) func(http.Handler) http.Handler
}

type Handler struct {
	limiter Resetter
	audit   AuditRecorder
	logger  *slog.Logger
}

func New(limiter Resetter, audit AuditRecorder, logger *slog.Logger) *Handler {
	return &Handler{limiter: limiter, audit: audit, logger: logger}
}

func (h *Handler) Register(r chi.Router, auth Authorizer) {
	r.With(auth.Require(accessmodels.PermRateLimitReset)).Post("/admin/rate-limit/reset/{actorID}", h.HandleReset)
}

// HandleReset clears one actor's window and records who did it.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target, err := id.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid actor id"))
		return
	}
	admin := identity.ActorFromContext(ctx)
	if admin == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	key := ratelimitmw.ActorKey(target.String())
	active, err := h.limiter.Reset(ctx, key)
	if err != nil {
		h.logger.ErrorContext(ctx, "ratelimit_reset_failed",
			"error", err,
			"target_actor_id", target.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to reset rate limit"))
		return
	}

	h.logger.InfoContext(ctx, "ratelimit_reset",
		"actor_id", admin.ID.String(),
		"target_actor_id", target.String(),
		"window_active", active,
		"request_id", requestcontext.RequestID(ctx),
	)
	if _, err := h.audit.Record(ctx, auditmodels.RecordInput{
		ActorID:    admin.ID,
		Action:     auditmodels.ActionRateLimitReset,
		TargetType: auditmodels.TargetRateLimit,
		TargetID:   target.String(),
		Before:     map[string]any{"window_active": active},
		After:      map[string]any{"window_active": false},
	}); err != nil {
		h.logger.ErrorContext(ctx, "audit_record_rejected", "error", err, "target_actor_id", target.String())
	}

	httputil.WriteJSON(w, http.StatusOK, models.ResetResponse{Key: key, Reset: true})
}
