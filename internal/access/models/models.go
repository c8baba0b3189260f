package models

import (
	"slices"
	"time"

	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Permission names a single administrative capability.
type Permission string

const (
	PermUsersView          Permission = "users.view"
	PermUsersSuspend       Permission = "users.suspend"
	PermUsersBan           Permission = "users.ban"
	PermUsersGrant         Permission = "users.permissions.grant"
	PermUsersRoleChange    Permission = "users.role.change"
	PermListingsModerate   Permission = "listings.moderate"
	PermAuditView          Permission = "audit.view"
	PermSecurityView       Permission = "security.view"
	PermSecurityResolve    Permission = "security.resolve"
	PermAnalyticsView      Permission = "analytics.view"
	PermAnalyticsAggregate Permission = "analytics.aggregate"
	PermAnalyticsExport    Permission = "analytics.export"
	PermRateLimitReset     Permission = "ratelimit.reset"
)

// AllPermissions is the closed set of permissions the registry knows about.
var AllPermissions = []Permission{
	PermUsersView,
	PermUsersSuspend,
	PermUsersBan,
	PermUsersGrant,
	PermUsersRoleChange,
	PermListingsModerate,
	PermAuditView,
	PermSecurityView,
	PermSecurityResolve,
	PermAnalyticsView,
	PermAnalyticsAggregate,
	PermAnalyticsExport,
	PermRateLimitReset,
}

func (p Permission) String() string {
	return string(p)
}

// Role is a closed enum; levels live in the registry.
type Role string

const (
	RoleUser       Role = "user"
	RoleSupport    Role = "support"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole validates s against the closed role set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	switch r {
	case RoleUser, RoleSupport, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return r, nil
	case "":
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
}

func (r Role) String() string {
	return string(r)
}

// Grant is a permission given directly to an actor, outside its role.
type Grant struct {
	Permission Permission `json:"permission"`
	GrantedBy  id.ActorID `json:"granted_by"`
	GrantedAt  time.Time  `json:"granted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the grant is usable at now. A grant expiring
// exactly at now is no longer active.
func (g Grant) ActiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// Status is the derived suspension state of an actor.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusBanned    Status = "banned"
)

// Actor is the resolved identity the guard evaluates.
type Actor struct {
	ID               id.ActorID `json:"id"`
	Role             Role       `json:"role"`
	Grants           []Grant    `json:"grants,omitempty"`
	Banned           bool       `json:"is_banned"`
	BanReason        string     `json:"ban_reason,omitempty"`
	Suspended        bool       `json:"is_suspended"`
	SuspensionReason string     `json:"suspension_reason,omitempty"`
	SuspendedUntil   *time.Time `json:"suspended_until,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// StatusAt derives the effective state. A suspension whose expiry has passed
// reads as active without any write.
func (a *Actor) StatusAt(now time.Time) Status {
	switch {
	case a.Banned:
		return StatusBanned
	case a.Suspended && (a.SuspendedUntil == nil || now.Before(*a.SuspendedUntil)):
		return StatusSuspended
	default:
		return StatusActive
	}
}

// ActiveGrant returns the non-expired grant for p, if any.
func (a *Actor) ActiveGrant(p Permission, now time.Time) (Grant, bool) {
	for _, g := range a.Grants {
		if g.Permission == p && g.ActiveAt(now) {
			return g, true
		}
	}
	return Grant{}, false
}

// Clone returns a deep copy so stores can hand out values without sharing grant slices.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}
	c := *a
	c.Grants = slices.Clone(a.Grants)
	if a.SuspendedUntil != nil {
		t := *a.SuspendedUntil
		c.SuspendedUntil = &t
	}
	for i := range c.Grants {
		if exp := c.Grants[i].ExpiresAt; exp != nil {
			t := *exp
			c.Grants[i].ExpiresAt = &t
		}
	}
	return &c
}
