// Package service is the audit recorder: it validates, redacts and persists
// administrative actions, and answers trail queries.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	activitymodels "warden/internal/activity/models"
	"warden/internal/audit/metrics"
	"warden/internal/audit/models"
	"warden/internal/audit/redact"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
	"warden/pkg/validation"
)

// Store is the append-only persistence port.
type Store interface {
	Append(ctx context.Context, entry *models.Entry) error
	List(ctx context.Context, filter models.Filter) ([]*models.Entry, error)
	Stats(ctx context.Context, from, to time.Time) (*models.Stats, error)
}

// SecurityTracker receives the internal event raised when an entry is lost.
type SecurityTracker interface {
	TrackSecurity(ctx context.Context, in activitymodels.SecurityEventInput) error
}

// DefaultStatsWindow applies when a stats request omits its range.
const DefaultStatsWindow = 24 * time.Hour

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithSecurityTracker wires where audit_write_failed events go.
func WithSecurityTracker(t SecurityTracker) Option {
	return func(s *Service) {
		s.security = t
	}
}

type Service struct {
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	security SecurityTracker
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record persists one entry and returns its ID.
//
// Invalid input is rejected with a validation error and nothing is written.
// A store failure never reaches the caller: it is logged, counted and raised
// as an audit_write_failed security event, and Record returns a nil ID with a
// nil error so the business action that triggered it still completes.
func (s *Service) Record(ctx context.Context, in models.RecordInput) (id.EntryID, error) {
	if in.ActorID.IsNil() {
		return id.EntryID{}, dErrors.New(dErrors.CodeValidation, "actor_id is required")
	}
	if err := validation.Validate(&in); err != nil {
		return id.EntryID{}, err
	}
	if err := validation.CheckSliceCount("metadata keys", len(in.Metadata), validation.MaxMetadataKeys); err != nil {
		return id.EntryID{}, err
	}

	entry := s.buildEntry(ctx, in)

	start := time.Now()
	err := s.store.Append(ctx, entry)
	s.metrics.ObserveWrite(entry.Action.String(), time.Since(start).Seconds(), err)
	if err != nil {
		s.reportWriteFailure(ctx, entry, err)
		return id.EntryID{}, nil
	}
	return entry.ID, nil
}

func (s *Service) buildEntry(ctx context.Context, in models.RecordInput) *models.Entry {
	ip := in.IPAddress
	if ip == "" {
		ip = requestcontext.ClientIP(ctx)
	}
	userAgent := in.UserAgent
	if userAgent == "" {
		userAgent = requestcontext.UserAgent(ctx)
	}

	metadata := redact.Map(in.Metadata)
	if client := describeClient(userAgent); client != nil {
		if metadata == nil {
			metadata = make(map[string]any, 2)
		}
		if _, exists := metadata["client"]; !exists {
			metadata["client"] = client
		}
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata["request_id"] = requestID
	}

	before := redact.Map(in.Before)
	if before == nil {
		before = map[string]any{}
	}
	after := redact.Map(in.After)
	if after == nil {
		after = map[string]any{}
	}

	return &models.Entry{
		ID:         id.NewEntryID(),
		ActorID:    in.ActorID,
		Action:     in.Action,
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		Before:     before,
		After:      after,
		Reason:     in.Reason,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Metadata:   metadata,
		CreatedAt:  requestcontext.Now(ctx).UTC(),
	}
}

func (s *Service) reportWriteFailure(ctx context.Context, entry *models.Entry, cause error) {
	s.logger.ErrorContext(ctx, "audit_write_failed",
		"error", cause,
		"request_id", requestcontext.RequestID(ctx),
		"entry_id", entry.ID.String(),
		"actor_id", entry.ActorID.String(),
		"action", entry.Action.String(),
		"target_type", entry.TargetType,
		"target_id", entry.TargetID,
	)
	if s.security == nil {
		return
	}

	actorID := entry.ActorID
	err := s.security.TrackSecurity(context.WithoutCancel(ctx), activitymodels.SecurityEventInput{
		UserID:      &actorID,
		Type:        activitymodels.EventAuditWriteFailed,
		Description: fmt.Sprintf("audit entry for %s could not be persisted", entry.Action),
		IPAddress:   entry.IPAddress,
		UserAgent:   entry.UserAgent,
		Metadata: map[string]any{
			"entry_id":    entry.ID.String(),
			"action":      entry.Action.String(),
			"target_type": entry.TargetType,
			"target_id":   entry.TargetID,
		},
		OccurredAt: entry.CreatedAt,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit_write_failure_event_failed", "error", err, "entry_id", entry.ID.String())
	}
}

// Query returns one page of entries, newest first.
func (s *Service) Query(ctx context.Context, f models.Filter) (*models.Page, error) {
	if f.Offset < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "offset cannot be negative")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	f.Limit = validation.ClampPageSize(f.Limit)

	probe := f
	probe.Limit = f.Limit + 1
	entries, err := s.store.List(ctx, probe)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to query audit log")
	}

	page := &models.Page{Limit: f.Limit, Offset: f.Offset}
	if len(entries) > f.Limit {
		page.HasMore = true
		entries = entries[:f.Limit]
	}
	page.Entries = entries
	return page, nil
}

// Stats counts entries by actor and by action in [from, to). A zero range
// means the trailing DefaultStatsWindow.
func (s *Service) Stats(ctx context.Context, from, to time.Time) (*models.Stats, error) {
	if to.IsZero() {
		to = requestcontext.Now(ctx).UTC()
	}
	if from.IsZero() {
		from = to.Add(-DefaultStatsWindow)
	}
	if !from.Before(to) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must be before to")
	}
	stats, err := s.store.Stats(ctx, from, to)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to compute audit stats")
	}
	return stats, nil
}
