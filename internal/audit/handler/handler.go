// Package handler serves the audit trail to administrators.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	accessmodels "warden/internal/access/models"
	"warden/internal/audit/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
	"warden/pkg/validation"
)

type Service interface {
	Query(ctx context.Context, f models.Filter) (*models.Page, error)
	Stats(ctx context.Context, from, to time.Time) (*models.Stats, error)
}

type Authorizer interface {
	Require(p accessmodels.Permission) func(http.Handler) http.Handler
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router, auth Authorizer) {
	r.Group(func(r chi.Router) {
		r.Use(auth.Require(accessmodels.PermAuditView))
		r.Get("/admin/audit-logs", h.HandleList)
		r.Get("/admin/audit-logs/stats", h.HandleStats)
	})
}

// HandleList returns one page of the trail, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.Query(ctx, f)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to query audit log",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func parseFilter(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	var (
		f   models.Filter
		err error
	)
	if raw := q.Get("actor"); raw != "" {
		actorID, perr := id.ParseActorID(raw)
		if perr != nil {
			return f, dErrors.Wrap(perr, dErrors.CodeInvalidInput, "invalid actor id")
		}
		f.ActorID = &actorID
	}
	f.Action = models.Action(q.Get("action"))
	f.TargetType = q.Get("targetType")
	f.TargetID = q.Get("targetId")
	if f.TargetID != "" && f.TargetType == "" {
		return f, dErrors.New(dErrors.CodeInvalidInput, "targetId requires targetType")
	}
	if f.From, err = httputil.QueryTime(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = httputil.QueryTime(q, "to"); err != nil {
		return f, err
	}
	f.Limit, f.Offset, err = httputil.Pagination(q, validation.DefaultPageSize)
	return f, err
}

// HandleStats counts entries by actor and by action.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	from, err := httputil.QueryTime(q, "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := httputil.QueryTime(q, "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	stats, err := h.service.Stats(ctx, from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to compute audit stats",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
