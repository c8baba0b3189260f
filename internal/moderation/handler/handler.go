// Package handler exposes actor moderation to administrators.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/access/identity"
	accessmodels "warden/internal/access/models"
	"warden/internal/moderation/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

type Service interface {
	GetActor(ctx context.Context, actorID id.ActorID) (*accessmodels.Actor, error)
	Suspend(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.SuspendRequest) (*accessmodels.Actor, error)
	Unsuspend(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.ReasonRequest) (*accessmodels.Actor, error)
	Ban(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.BanRequest) (*accessmodels.Actor, error)
	Unban(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.ReasonRequest) (*accessmodels.Actor, error)
	GrantPermission(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.GrantRequest) (*accessmodels.Actor, error)
	RevokePermission(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, p accessmodels.Permission, reason string) (*accessmodels.Actor, error)
	ChangeRole(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.RoleChangeRequest) (*accessmodels.Actor, error)
}

// Authorizer gates routes by permission and, for unban, by hierarchy level.
type Authorizer interface {
	Require(p accessmodels.Permission) func(http.Handler) http.Handler
	RequireLevel(minLevel int) func(http.Handler) http.Handler
	TopLevel() int
}

type Handler struct {
	service Service
	logger  *slog.Logger
	now     func() time.Time
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, now: time.Now}
}

func (h *Handler) Register(r chi.Router, auth Authorizer) {
	r.With(auth.Require(accessmodels.PermUsersView)).Get("/admin/users/{id}", h.HandleGet)
	r.With(auth.Require(accessmodels.PermUsersSuspend)).Post("/admin/users/{id}/suspend", h.HandleSuspend)
	r.With(auth.Require(accessmodels.PermUsersSuspend)).Post("/admin/users/{id}/unsuspend", h.HandleUnsuspend)
	r.With(auth.Require(accessmodels.PermUsersBan)).Post("/admin/users/{id}/ban", h.HandleBan)
	r.With(auth.Require(accessmodels.PermUsersBan), auth.RequireLevel(auth.TopLevel())).
		Post("/admin/users/{id}/unban", h.HandleUnban)
	r.With(auth.Require(accessmodels.PermUsersGrant)).Post("/admin/users/{id}/permissions", h.HandleGrant)
	r.With(auth.Require(accessmodels.PermUsersGrant)).Delete("/admin/users/{id}/permissions/{permission}", h.HandleRevoke)
	r.With(auth.Require(accessmodels.PermUsersRoleChange)).Put("/admin/users/{id}/role", h.HandleChangeRole)
}

// ActorResponse is an actor with its derived status.
type ActorResponse struct {
	*accessmodels.Actor
	Status accessmodels.Status `json:"status"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	target, ok := targetID(w, r)
	if !ok {
		return
	}
	actor, err := h.service.GetActor(r.Context(), target)
	h.respond(w, r, actor, err)
}

func (h *Handler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	handle(h, w, r, h.service.Suspend)
}

func (h *Handler) HandleUnsuspend(w http.ResponseWriter, r *http.Request) {
	handle(h, w, r, h.service.Unsuspend)
}

func (h *Handler) HandleBan(w http.ResponseWriter, r *http.Request) {
	handle(h, w, r, h.service.Ban)
}

func (h *Handler) HandleUnban(w http.ResponseWriter, r *http.Request) {
	handle(h, w, r, h.service.Unban)
}

func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	handle(h, w, r, h.service.GrantPermission)
}

func (h *Handler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	handle(h, w, r, h.service.ChangeRole)
}

// HandleRevoke removes a direct grant; ?reason= is recorded with it.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	requester, target, ok := h.parties(w, r)
	if !ok {
		return
	}
	p := accessmodels.Permission(chi.URLParam(r, "permission"))
	actor, err := h.service.RevokePermission(r.Context(), requester, target, p, r.URL.Query().Get("reason"))
	h.respond(w, r, actor, err)
}

// handle decodes an optional T body and runs op for the requester against the path actor.
func handle[T any](h *Handler, w http.ResponseWriter, r *http.Request,
	op func(context.Context, *accessmodels.Actor, id.ActorID, T) (*accessmodels.Actor, error),
) {
	requester, target, ok := h.parties(w, r)
	if !ok {
		return
	}
	var req T
	if r.Body != http.NoBody && r.ContentLength != 0 {
		decoded, ok := httputil.DecodeJSON[T](w, r, h.logger)
		if !ok {
			return
		}
		req = *decoded
	}
	actor, err := op(r.Context(), requester, target, req)
	h.respond(w, r, actor, err)
}

func (h *Handler) parties(w http.ResponseWriter, r *http.Request) (*accessmodels.Actor, id.ActorID, bool) {
	requester := identity.ActorFromContext(r.Context())
	if requester == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return nil, id.ActorID{}, false
	}
	target, ok := targetID(w, r)
	return requester, target, ok
}

func targetID(w http.ResponseWriter, r *http.Request) (id.ActorID, bool) {
	target, err := id.ParseActorID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid actor id"))
		return id.ActorID{}, false
	}
	return target, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, actor *accessmodels.Actor, err error) {
	ctx := r.Context()
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeStorageFailure) {
			h.logger.ErrorContext(ctx, "moderation request failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ActorResponse{
		Actor:  actor,
		Status: actor.StatusAt(requestcontext.NowOr(ctx, h.now)),
	})
}
