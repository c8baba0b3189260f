// Package guard is the access guard: it resolves permission and level checks
// against the registry and an actor's state, records every denial as a
// security event before responding, and throttles allowed actors per window.
package guard

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/access/metrics"
	"warden/internal/access/models"
	"warden/internal/access/registry"
	activitymodels "warden/internal/activity/models"
	ratelimitmodels "warden/internal/ratelimit/models"
	"warden/pkg/requestcontext"
)

// DenyReason explains a denial internally. It never reaches the client.
type DenyReason string

const (
	ReasonNone         DenyReason = ""
	ReasonBanned       DenyReason = "banned"
	ReasonSuspended    DenyReason = "suspended"
	ReasonNotPermitted DenyReason = "not_permitted"
	ReasonLevelTooLow  DenyReason = "level_too_low"
	ReasonUnknownActor DenyReason = "unknown_actor"
)

// Decision is the outcome of a check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	// Via is "role" or "grant" for allowed permission checks.
	Via string
}

// SecurityRecorder persists a security event and returns once it is stored.
type SecurityRecorder interface {
	RecordSecurity(ctx context.Context, in activitymodels.SecurityEventInput) (*activitymodels.SecurityEvent, error)
}

// RateLimiter is the per-actor fixed-window limiter owned by the guard.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimitmodels.Result, error)
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock injects the time source used when the request carries none.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithRateLimiter enables per-actor throttling in the Require middlewares.
func WithRateLimiter(l RateLimiter) Option {
	return func(g *Guard) {
		g.limiter = l
	}
}

type Guard struct {
	registry *registry.Registry
	events   SecurityRecorder
	limiter  RateLimiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(reg *registry.Registry, events SecurityRecorder, opts ...Option) *Guard {
	g := &Guard{
		registry: reg,
		events:   events,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate resolves a permission check without side effects.
//
// Order: banned, suspended (unexpired), role base set, active direct grant.
// Anything else, including a permission missing from the registry, is denied.
func (g *Guard) Evaluate(actor *models.Actor, p models.Permission, now time.Time) Decision {
	if actor == nil {
		return Decision{Reason: ReasonUnknownActor}
	}
	if d, blocked := g.statusDecision(actor, now); blocked {
		return d
	}
	if !g.registry.IsRegistered(p) {
		return Decision{Reason: ReasonNotPermitted}
	}
	if g.registry.RoleHas(actor.Role, p) {
		return Decision{Allowed: true, Via: "role"}
	}
	if _, ok := actor.ActiveGrant(p, now); ok {
		return Decision{Allowed: true, Via: "grant"}
	}
	return Decision{Reason: ReasonNotPermitted}
}

// EvaluateLevel resolves a hierarchy-level check without side effects.
func (g *Guard) EvaluateLevel(actor *models.Actor, minLevel int, now time.Time) Decision {
	if actor == nil {
		return Decision{Reason: ReasonUnknownActor}
	}
	if d, blocked := g.statusDecision(actor, now); blocked {
		return d
	}
	level, ok := g.registry.Level(actor.Role)
	if !ok || level < minLevel {
		return Decision{Reason: ReasonLevelTooLow}
	}
	return Decision{Allowed: true, Via: "level"}
}

func (g *Guard) statusDecision(actor *models.Actor, now time.Time) (Decision, bool) {
	switch actor.StatusAt(now) {
	case models.StatusBanned:
		return Decision{Reason: ReasonBanned}, true
	case models.StatusSuspended:
		return Decision{Reason: ReasonSuspended}, true
	default:
		return Decision{}, false
	}
}

// Check evaluates p for actor and, on denial, records exactly one security
// event before returning. Allowed checks write nothing.
func (g *Guard) Check(ctx context.Context, actor *models.Actor, p models.Permission) Decision {
	d := g.Evaluate(actor, p, g.clock(ctx))
	g.metrics.ObserveDecision(d.Allowed, string(d.Reason))
	if !d.Allowed {
		g.recordDenial(ctx, actor, d, map[string]any{"permission": p.String()})
	}
	return d
}

// CheckLevel is Check for coarse level-gated operations.
func (g *Guard) CheckLevel(ctx context.Context, actor *models.Actor, minLevel int) Decision {
	d := g.EvaluateLevel(actor, minLevel, g.clock(ctx))
	g.metrics.ObserveDecision(d.Allowed, string(d.Reason))
	if !d.Allowed {
		g.recordDenial(ctx, actor, d, map[string]any{"required_level": minLevel})
	}
	return d
}

// TopLevel exposes the registry's highest level for level-gated callers.
func (g *Guard) TopLevel() int {
	return g.registry.TopLevel()
}

// Level returns the hierarchy level of role.
func (g *Guard) Level(role models.Role) (int, bool) {
	return g.registry.Level(role)
}

func (g *Guard) clock(ctx context.Context) time.Time {
	return requestcontext.NowOr(ctx, g.now)
}

func (g *Guard) recordDenial(ctx context.Context, actor *models.Actor, d Decision, detail map[string]any) {
	eventType, description := denialEvent(d.Reason)
	in := activitymodels.SecurityEventInput{
		Type:        eventType,
		Description: description,
		IPAddress:   requestcontext.ClientIP(ctx),
		UserAgent:   requestcontext.UserAgent(ctx),
		Metadata:    detail,
		OccurredAt:  g.clock(ctx),
	}
	if actor != nil {
		actorID := actor.ID
		in.UserID = &actorID
		in.Metadata["role"] = actor.Role.String()
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		in.Metadata["request_id"] = requestID
	}

	if _, err := g.events.RecordSecurity(ctx, in); err != nil {
		g.logger.ErrorContext(ctx, "access_denial_event_failed",
			"error", err,
			"event_type", string(eventType),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func denialEvent(reason DenyReason) (activitymodels.SecurityEventType, string) {
	switch reason {
	case ReasonBanned:
		return activitymodels.EventUnauthorizedAccessAttempt, "banned actor attempted an administrative action"
	case ReasonSuspended:
		return activitymodels.EventSuspendedAccessAttempt, "suspended actor attempted an administrative action"
	default:
		return activitymodels.EventPermissionDenied, "administrative action denied"
	}
}
