// Package service moves actors between active, suspended and banned and
// manages their direct permission grants. Every change is written to the
// audit trail; suspension and ban transitions also revoke the actor's sessions.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	accessmodels "warden/internal/access/models"
	"warden/internal/access/registry"
	activitymodels "warden/internal/activity/models"
	auditmodels "warden/internal/audit/models"
	"warden/internal/moderation/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
	"warden/pkg/validation"
)

type ActorStore interface {
	GetActor(ctx context.Context, actorID id.ActorID) (*accessmodels.Actor, error)
	Update(ctx context.Context, actorID id.ActorID, fn func(*accessmodels.Actor) error) (*accessmodels.Actor, error)
}

// SessionRevoker ends every active session of an actor.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, actorID id.ActorID) error
}

type AuditRecorder interface {
	Record(ctx context.Context, in auditmodels.RecordInput) (id.EntryID, error)
}

type SecurityRecorder interface {
	RecordSecurity(ctx context.Context, in activitymodels.SecurityEventInput) (*activitymodels.SecurityEvent, error)
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

// WithSecurityRecorder records hierarchy denials and session revocations as
// security events.
func WithSecurityRecorder(r SecurityRecorder) Option {
	return func(s *Service) {
		s.events = r
	}
}

type Service struct {
	actors   ActorStore
	sessions SessionRevoker
	audit    AuditRecorder
	registry *registry.Registry
	events   SecurityRecorder
	logger   *slog.Logger
	now      func() time.Time
}

func New(actors ActorStore, sessions SessionRevoker, audit AuditRecorder, reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		actors:   actors,
		sessions: sessions,
		audit:    audit,
		registry: reg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errUnauthenticated = dErrors.New(dErrors.CodeUnauthorized, "authentication required")

// change is what a transition reports back for the audit entry.
type change struct {
	before map[string]any
	after  map[string]any
}

type transition struct {
	action  auditmodels.Action
	reason  string
	revoke  bool
	metaKey string
	apply   func(target *accessmodels.Actor, now time.Time) (change, error)
}

func (s *Service) GetActor(ctx context.Context, actorID id.ActorID) (*accessmodels.Actor, error) {
	a, err := s.actors.GetActor(ctx, actorID)
	if err != nil {
		return nil, s.storeError(err)
	}
	return a, nil
}

// Suspend suspends target until req.Until, or indefinitely. A banned or
// currently suspended actor cannot be suspended.
func (s *Service) Suspend(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.SuspendRequest) (*accessmodels.Actor, error) {
	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	now := s.clock(ctx)
	if req.Until != nil && !req.Until.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "until must be in the future")
	}
	return s.run(ctx, requester, target, transition{
		action: auditmodels.ActionUserSuspend,
		reason: req.Reason,
		revoke: true,
		apply: func(a *accessmodels.Actor, now time.Time) (change, error) {
			switch a.StatusAt(now) {
			case accessmodels.StatusBanned:
				return change{}, dErrors.New(dErrors.CodeConflict, "actor is banned")
			case accessmodels.StatusSuspended:
				return change{}, dErrors.New(dErrors.CodeConflict, "actor is already suspended")
			}
			a.Suspended = true
			a.SuspensionReason = req.Reason
			a.SuspendedUntil = nil
			after := map[string]any{
				"is_suspended":      true,
				"suspension_reason": req.Reason,
			}
			if req.Until != nil {
				until := req.Until.UTC()
				a.SuspendedUntil = &until
				after["suspended_until"] = until.Format(time.RFC3339)
			}
			return change{before: map[string]any{"is_suspended": false}, after: after}, nil
		},
	})
}

func (s *Service) Unsuspend(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.ReasonRequest) (*accessmodels.Actor, error) {
	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	return s.run(ctx, requester, target, transition{
		action: auditmodels.ActionUserUnsuspend,
		reason: req.Reason,
		revoke: true,
		apply: func(a *accessmodels.Actor, now time.Time) (change, error) {
			if a.StatusAt(now) != accessmodels.StatusSuspended {
				return change{}, dErrors.New(dErrors.CodeConflict, "actor is not suspended")
			}
			before := map[string]any{
				"is_suspended":      true,
				"suspension_reason": a.SuspensionReason,
			}
			a.Suspended = false
			a.SuspensionReason = ""
			a.SuspendedUntil = nil
			return change{before: before, after: map[string]any{"is_suspended": false}}, nil
		},
	})
}

// Ban bans target. A suspension in place is cleared by the ban.
func (s *Service) Ban(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.BanRequest) (*accessmodels.Actor, error) {
	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	return s.run(ctx, requester, target, transition{
		action: auditmodels.ActionUserBan,
		reason: req.Reason,
		revoke: true,
		apply: func(a *accessmodels.Actor, now time.Time) (change, error) {
			if a.Banned {
				return change{}, dErrors.New(dErrors.CodeConflict, "actor is already banned")
			}
			c := change{
				before: map[string]any{"is_banned": false},
				after:  map[string]any{"is_banned": true, "ban_reason": req.Reason},
			}
			if a.StatusAt(now) == accessmodels.StatusSuspended {
				c.before["is_suspended"] = true
				c.after["is_suspended"] = false
			}
			a.Banned = true
			a.BanReason = req.Reason
			a.Suspended = false
			a.SuspensionReason = ""
			a.SuspendedUntil = nil
			return c, nil
		},
	})
}

// Unban lifts a ban. Only actors at the top of the hierarchy may unban.
func (s *Service) Unban(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.ReasonRequest) (*accessmodels.Actor, error) {
	if requester == nil {
		return nil, errUnauthenticated
	}
	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	if level, _ := s.registry.Level(requester.Role); level < s.registry.TopLevel() {
		s.deny(ctx, requester, target, auditmodels.ActionUserUnban, "requires_top_role")
		return nil, dErrors.New(dErrors.CodeForbidden, "unban requires the top role")
	}
	return s.run(ctx, requester, target, transition{
		action: auditmodels.ActionUserUnban,
		reason: req.Reason,
		revoke: true,
		apply: func(a *accessmodels.Actor, _ time.Time) (change, error) {
			if !a.Banned {
				return change{}, dErrors.New(dErrors.CodeConflict, "actor is not banned")
			}
			before := map[string]any{"is_banned": true, "ban_reason": a.BanReason}
			a.Banned = false
			a.BanReason = ""
			return change{before: before, after: map[string]any{"is_banned": false}}, nil
		},
	})
}

// GrantPermission gives target a registered permission outside its role,
// replacing any earlier grant of the same permission. Requesters can only
// hand out permissions they hold themselves.
func (s *Service) GrantPermission(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.GrantRequest) (*accessmodels.Actor, error) {
	if requester == nil {
		return nil, errUnauthenticated
	}
	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	if !s.registry.IsRegistered(req.Permission) {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown permission")
	}
	now := s.clock(ctx)
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "expires_at must be in the future")
	}
	if !s.holds(requester, req.Permission, now) {
		s.deny(ctx, requester, target, auditmodels.ActionUserPermissionGrant, "permission_not_held")
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot grant a permission you do not hold")
	}

	return s.run(ctx, requester, target, transition{
		action:  auditmodels.ActionUserPermissionGrant,
		reason:  req.Reason,
		metaKey: string(req.Permission),
		apply: func(a *accessmodels.Actor, now time.Time) (change, error) {
			before := map[string]any{"permission": string(req.Permission), "granted": false}
			if g, ok := a.ActiveGrant(req.Permission, now); ok {
				before["granted"] = true
				before["expires_at"] = formatOptional(g.ExpiresAt)
			}
			a.Grants = slices.DeleteFunc(a.Grants, func(g accessmodels.Grant) bool {
				return g.Permission == req.Permission
			})
			g := accessmodels.Grant{Permission: req.Permission, GrantedBy: requester.ID, GrantedAt: now}
			if req.ExpiresAt != nil {
				exp := req.ExpiresAt.UTC()
				g.ExpiresAt = &exp
			}
			a.Grants = append(a.Grants, g)
			return change{before: before, after: map[string]any{
				"permission": string(req.Permission),
				"granted":    true,
				"expires_at": formatOptional(g.ExpiresAt),
			}}, nil
		},
	})
}

// RevokePermission removes a direct grant. Expired grants can be revoked too.
func (s *Service) RevokePermission(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, p accessmodels.Permission, reason string) (*accessmodels.Actor, error) {
	if err := validation.CheckStringLength("reason", reason, validation.MaxReasonLength); err != nil {
		return nil, err
	}
	return s.run(ctx, requester, target, transition{
		action:  auditmodels.ActionUserPermissionRevoke,
		reason:  reason,
		metaKey: string(p),
		apply: func(a *accessmodels.Actor, _ time.Time) (change, error) {
			idx := slices.IndexFunc(a.Grants, func(g accessmodels.Grant) bool { return g.Permission == p })
			if idx < 0 {
				return change{}, dErrors.New(dErrors.CodeNotFound, "grant not found")
			}
			a.Grants = slices.Delete(a.Grants, idx, idx+1)
			return change{
				before: map[string]any{"permission": string(p), "granted": true},
				after:  map[string]any{"permission": string(p), "granted": false},
			}, nil
		},
	})
}

// ChangeRole moves target to another role. Roles at or above the requester's
// own level can only be assigned by the top role.
func (s *Service) ChangeRole(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, req models.RoleChangeRequest) (*accessmodels.Actor, error) {
	if requester == nil {
		return nil, errUnauthenticated
	}
	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	role, err := accessmodels.ParseRole(string(req.Role))
	if err != nil {
		return nil, err
	}
	newLevel, ok := s.registry.Level(role)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "role is not defined")
	}
	requesterLevel, _ := s.registry.Level(requester.Role)
	if newLevel >= requesterLevel && requesterLevel < s.registry.TopLevel() {
		s.deny(ctx, requester, target, auditmodels.ActionUserRoleChange, "role_above_requester")
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot assign a role at or above your own")
	}

	return s.run(ctx, requester, target, transition{
		action: auditmodels.ActionUserRoleChange,
		reason: req.Reason,
		apply: func(a *accessmodels.Actor, _ time.Time) (change, error) {
			if a.Role == role {
				return change{}, dErrors.New(dErrors.CodeConflict, "actor already has this role")
			}
			before := map[string]any{"role": a.Role.String()}
			a.Role = role
			return change{before: before, after: map[string]any{"role": role.String()}}, nil
		},
	})
}

// run applies t atomically, then revokes sessions and records the audit entry.
func (s *Service) run(ctx context.Context, requester *accessmodels.Actor, targetID id.ActorID, t transition) (*accessmodels.Actor, error) {
	if requester == nil {
		return nil, errUnauthenticated
	}
	if targetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "target actor id is required")
	}
	now := s.clock(ctx)

	var (
		c      change
		denied bool
	)
	updated, err := s.actors.Update(ctx, targetID, func(a *accessmodels.Actor) error {
		if !s.outranks(requester, a) {
			denied = true
			return dErrors.New(dErrors.CodeForbidden, "target is not below the requester")
		}
		var err error
		if c, err = t.apply(a, now); err != nil {
			return err
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		if denied {
			s.deny(ctx, requester, targetID, t.action, "target_not_below_requester")
		}
		return nil, s.storeError(err)
	}

	metadata := map[string]any{}
	if t.metaKey != "" {
		metadata["permission"] = t.metaKey
	}
	if t.revoke {
		metadata["sessions_revoked"] = s.revokeSessions(ctx, targetID, t.action)
	}

	s.logger.InfoContext(ctx, "moderation_action",
		"action", t.action.String(),
		"actor_id", requester.ID.String(),
		"target_actor_id", targetID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if _, err := s.audit.Record(ctx, auditmodels.RecordInput{
		ActorID:    requester.ID,
		Action:     t.action,
		TargetType: auditmodels.TargetUser,
		TargetID:   targetID.String(),
		Before:     c.before,
		After:      c.after,
		Reason:     t.reason,
		Metadata:   metadata,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit_record_rejected",
			"error", err,
			"action", t.action.String(),
			"target_actor_id", targetID.String(),
		)
	}
	return updated, nil
}

// revokeSessions reports whether revocation succeeded. The state change
// stands either way.
func (s *Service) revokeSessions(ctx context.Context, target id.ActorID, action auditmodels.Action) bool {
	if err := s.sessions.RevokeAllSessions(ctx, target); err != nil {
		s.logger.ErrorContext(ctx, "session_revocation_failed",
			"error", err,
			"action", action.String(),
			"target_actor_id", target.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return false
	}
	if s.events != nil {
		userID := target
		if _, err := s.events.RecordSecurity(ctx, activitymodels.SecurityEventInput{
			UserID:      &userID,
			Type:        activitymodels.EventSessionRevoked,
			Description: "sessions revoked by " + action.String(),
			IPAddress:   requestcontext.ClientIP(ctx),
			UserAgent:   requestcontext.UserAgent(ctx),
			Metadata:    map[string]any{"action": action.String()},
			OccurredAt:  s.clock(ctx),
		}); err != nil {
			s.logger.ErrorContext(ctx, "session_revocation_event_failed", "error", err)
		}
	}
	return true
}

func (s *Service) outranks(requester, target *accessmodels.Actor) bool {
	if requester.ID == target.ID {
		return false
	}
	rl, ok := s.registry.Level(requester.Role)
	if !ok {
		return false
	}
	tl, ok := s.registry.Level(target.Role)
	if !ok {
		return false
	}
	return rl > tl
}

func (s *Service) holds(a *accessmodels.Actor, p accessmodels.Permission, now time.Time) bool {
	if s.registry.RoleHas(a.Role, p) {
		return true
	}
	_, ok := a.ActiveGrant(p, now)
	return ok
}

func (s *Service) deny(ctx context.Context, requester *accessmodels.Actor, target id.ActorID, action auditmodels.Action, reason string) {
	s.logger.WarnContext(ctx, "moderation_denied",
		"action", action.String(),
		"actor_id", requester.ID.String(),
		"target_actor_id", target.String(),
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.events == nil {
		return
	}
	actorID := requester.ID
	if _, err := s.events.RecordSecurity(ctx, activitymodels.SecurityEventInput{
		UserID:      &actorID,
		Type:        activitymodels.EventPermissionDenied,
		Description: "moderation action denied",
		IPAddress:   requestcontext.ClientIP(ctx),
		UserAgent:   requestcontext.UserAgent(ctx),
		Metadata: map[string]any{
			"action":          action.String(),
			"target_actor_id": target.String(),
			"reason":          reason,
			"role":            requester.Role.String(),
		},
		OccurredAt: s.clock(ctx),
	}); err != nil {
		s.logger.ErrorContext(ctx, "access_denial_event_failed", "error", err)
	}
}

func (s *Service) storeError(err error) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "actor not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to update actor")
	}
}

func (s *Service) clock(ctx context.Context) time.Time {
	return requestcontext.NowOr(ctx, s.now).UTC()
}

func formatOptional(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
