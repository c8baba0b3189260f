// Package service answers admin reads over stored activity and resolves
// security events.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"warden/internal/activity/models"
	auditmodels "warden/internal/audit/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
	"warden/pkg/validation"
)

// MaxTimelineEvents caps a timeline read.
const MaxTimelineEvents = 200

type Store interface {
	ListSecurity(ctx context.Context, f models.SecurityFilter) ([]*models.SecurityEvent, error)
	GetSecurity(ctx context.Context, eventID id.EventID) (*models.SecurityEvent, error)
	ResolveSecurity(ctx context.Context, eventID id.EventID, resolver id.ActorID, at time.Time) (*models.SecurityEvent, error)
	ListUserEvents(ctx context.Context, userID id.ActorID, limit int) ([]*models.UserEvent, error)
}

// AuditRecorder records the resolution of a security event.
type AuditRecorder interface {
	Record(ctx context.Context, in auditmodels.RecordInput) (id.EntryID, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	store  Store
	audit  AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, audit AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:  store,
		audit:  audit,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTimeline returns a user's most recent events, newest first.
func (s *Service) GetTimeline(ctx context.Context, userID id.ActorID, limit int) ([]*models.UserEvent, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	switch {
	case limit <= 0:
		limit = validation.DefaultPageSize
	case limit > MaxTimelineEvents:
		limit = MaxTimelineEvents
	}
	events, err := s.store.ListUserEvents(ctx, userID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to load timeline")
	}
	return events, nil
}

// GetRecentSecurity returns one page of security events, newest first.
func (s *Service) GetRecentSecurity(ctx context.Context, f models.SecurityFilter) (*models.SecurityPage, error) {
	if f.Offset < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "offset cannot be negative")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	f.Limit = validation.ClampPageSize(f.Limit)

	probe := f
	probe.Limit = f.Limit + 1
	events, err := s.store.ListSecurity(ctx, probe)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to query security events")
	}

	page := &models.SecurityPage{Limit: f.Limit, Offset: f.Offset}
	if len(events) > f.Limit {
		page.HasMore = true
		events = events[:f.Limit]
	}
	page.Events = events
	return page, nil
}

// Resolve marks an event resolved by resolver and records the change in
// the audit trail. An event can be resolved once.
func (s *Service) Resolve(ctx context.Context, eventID id.EventID, resolver id.ActorID) (*models.SecurityEvent, error) {
	at := requestcontext.NowOr(ctx, s.now).UTC()
	ev, err := s.store.ResolveSecurity(ctx, eventID, resolver, at)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "security event not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, dErrors.New(dErrors.CodeConflict, "security event already resolved")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to resolve security event")
	}

	s.logger.InfoContext(ctx, "security_event_resolved",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", eventID.String(),
		"event_type", string(ev.Type),
		"resolved_by", resolver.String(),
	)

	if s.audit != nil {
		if _, err := s.audit.Record(ctx, auditmodels.RecordInput{
			ActorID:    resolver,
			Action:     auditmodels.ActionSecurityResolve,
			TargetType: auditmodels.TargetSecurityEvent,
			TargetID:   eventID.String(),
			Before:     map[string]any{"resolved": false},
			After: map[string]any{
				"resolved":    true,
				"resolved_by": resolver.String(),
				"resolved_at": at.Format(time.RFC3339),
			},
			Metadata: map[string]any{
				"event_type": string(ev.Type),
				"severity":   string(ev.Severity),
			},
		}); err != nil {
			s.logger.ErrorContext(ctx, "audit_record_rejected", "error", err, "event_id", eventID.String())
		}
	}
	return ev, nil
}
