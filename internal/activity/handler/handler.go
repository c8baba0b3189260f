// Package handler exposes security event administration, user timelines and
// the internal event intake over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"warden/internal/access/identity"
	accessmodels "warden/internal/access/models"
	"warden/internal/activity/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
	"warden/pkg/validation"
)

type Service interface {
	GetTimeline(ctx context.Context, userID id.ActorID, limit int) ([]*models.UserEvent, error)
	GetRecentSecurity(ctx context.Context, f models.SecurityFilter) (*models.SecurityPage, error)
	Resolve(ctx context.Context, eventID id.EventID, resolver id.ActorID) (*models.SecurityEvent, error)
}

// Tracker is the ingestion side used by the intake routes.
type Tracker interface {
	Track(ctx context.Context, in models.UserEventInput) error
	TrackSecurity(ctx context.Context, in models.SecurityEventInput) error
}

// Authorizer wraps a route with a permission check.
type Authorizer interface {
	Require(p accessmodels.Permission) func(http.Handler) http.Handler
}

type Handler struct {
	service Service
	tracker Tracker
	logger  *slog.Logger
}

func New(service Service, tracker Tracker, logger *slog.Logger) *Handler {
	return &Handler{service: service, tracker: tracker, logger: logger}
}

// Register mounts the admin routes. r must already resolve the actor.
func (h *Handler) Register(r chi.Router, auth Authorizer) {
	r.With(auth.Require(accessmodels.PermSecurityView)).Get("/admin/security-events", h.HandleListSecurityEvents)
	r.With(auth.Require(accessmodels.PermSecurityResolve)).Patch("/admin/security-events/{id}/resolve", h.HandleResolve)
	r.With(auth.Require(accessmodels.PermUsersView)).Get("/admin/users/{id}/timeline", h.HandleTimeline)
}

// RegisterIntake mounts the event intake used by upstream services. It is
// served on the internal listener only.
func (h *Handler) RegisterIntake(r chi.Router) {
	r.Post("/internal/events", h.HandleTrack)
	r.Post("/internal/security-events", h.HandleTrackSecurity)
}

func (h *Handler) HandleListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := parseSecurityFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.GetRecentSecurity(ctx, f)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list security events",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func parseSecurityFilter(r *http.Request) (models.SecurityFilter, error) {
	q := r.URL.Query()
	var (
		f   models.SecurityFilter
		err error
	)
	if raw := q.Get("severity"); raw != "" {
		sev, err := models.ParseSeverity(raw)
		if err != nil {
			return f, err
		}
		f.Severity = &sev
	}
	if raw := q.Get("type"); raw != "" {
		f.Type = models.SecurityEventType(raw)
	}
	if raw := q.Get("user"); raw != "" {
		userID, err := id.ParseActorID(raw)
		if err != nil {
			return f, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid user id")
		}
		f.UserID = &userID
	}
	if f.Resolved, err = httputil.QueryBool(q, "resolved"); err != nil {
		return f, err
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

func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid event id"))
		return
	}
	actor := identity.ActorFromContext(ctx)
	if actor == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	ev, err := h.service.Resolve(ctx, eventID, actor.ID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to resolve security event",
			"error", err,
			"event_id", eventID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseActorID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid user id"))
		return
	}
	limit, err := httputil.QueryInt(r.URL.Query(), "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.service.GetTimeline(ctx, userID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load timeline",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"events":  events,
		"total":   len(events),
	})
}

type trackRequest struct {
	UserID    *id.ActorID    `json:"user_id"`
	Type      string         `json:"event_type" validate:"required,notblank,max=64"`
	Category  string         `json:"category" validate:"max=64"`
	Data      map[string]any `json:"data"`
	SessionID string         `json:"session_id" validate:"max=128"`
}

func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[trackRequest](w, r, h.logger)
	if !ok {
		return
	}
	err := h.tracker.Track(ctx, models.UserEventInput{
		UserID:    req.UserID,
		Type:      models.UserEventType(req.Type),
		Category:  req.Category,
		Data:      req.Data,
		IPAddress: requestcontext.ClientIP(ctx),
		SessionID: req.SessionID,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type trackSecurityRequest struct {
	UserID      *id.ActorID    `json:"user_id"`
	Type        string         `json:"event_type" validate:"required,notblank,max=64"`
	Description string         `json:"description" validate:"max=1000"`
	IPAddress   string         `json:"ip_address" validate:"omitempty,ip"`
	UserAgent   string         `json:"user_agent" validate:"max=512"`
	Metadata    map[string]any `json:"metadata"`
}

// HandleTrackSecurity accepts events such as failed_login from the
// authentication service. The reported client IP wins over the caller's.
func (h *Handler) HandleTrackSecurity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[trackSecurityRequest](w, r, h.logger)
	if !ok {
		return
	}
	ip := req.IPAddress
	if ip == "" {
		ip = requestcontext.ClientIP(ctx)
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = requestcontext.UserAgent(ctx)
	}
	err := h.tracker.TrackSecurity(ctx, models.SecurityEventInput{
		UserID:      req.UserID,
		Type:        models.SecurityEventType(req.Type),
		Description: req.Description,
		IPAddress:   ip,
		UserAgent:   userAgent,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "security_event_rejected",
			"error", err,
			"event_type", req.Type,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
