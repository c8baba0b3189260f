package models

import (
	"time"

	id "warden/pkg/domain"
)

// Action names an administrative operation recorded in the trail.
type Action string

const (
	ActionUserSuspend          Action = "user.suspend"
	ActionUserUnsuspend        Action = "user.unsuspend"
	ActionUserBan              Action = "user.ban"
	ActionUserUnban            Action = "user.unban"
	ActionUserPermissionGrant  Action = "user.permission_grant"
	ActionUserPermissionRevoke Action = "user.permission_revoke"
	ActionUserRoleChange       Action = "user.role_change"
	ActionSecurityResolve      Action = "security_event.resolve"
	ActionRateLimitReset       Action = "ratelimit.reset"
	ActionAnalyticsAggregate   Action = "analytics.aggregate"
)

func (a Action) String() string {
	return string(a)
}

// Target types.
const (
	TargetUser          = "user"
	TargetSecurityEvent = "security_event"
	TargetRateLimit     = "rate_limit"
	TargetDailyMetrics  = "daily_metrics"
)

// Entry is an immutable audit record.
type Entry struct {
	ID         id.EntryID     `json:"id"`
	ActorID    id.ActorID     `json:"actor_id"`
	Action     Action         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Before     map[string]any `json:"before_state"`
	After      map[string]any `json:"after_state"`
	Reason     string         `json:"reason,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RecordInput is the payload accepted by the recorder. IP and user agent
// fall back to the request context when empty.
type RecordInput struct {
	ActorID    id.ActorID     `json:"actor_id"`
	Action     Action         `json:"action" validate:"required,notblank,max=100"`
	TargetType string         `json:"target_type" validate:"required,notblank,max=50"`
	TargetID   string         `json:"target_id" validate:"required,notblank,max=255"`
	Before     map[string]any `json:"before_state"`
	After      map[string]any `json:"after_state"`
	Reason     string         `json:"reason" validate:"max=1000"`
	IPAddress  string         `json:"ip_address" validate:"omitempty,ip"`
	UserAgent  string         `json:"user_agent" validate:"max=512"`
	Metadata   map[string]any `json:"metadata"`
}

// Filter narrows Query. Zero values mean "no filter".
type Filter struct {
	ActorID    *id.ActorID
	Action     Action
	TargetType string
	TargetID   string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Page is one slice of entries, newest first.
type Page struct {
	Entries []*Entry `json:"entries"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// Count is a single group in Stats.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Stats summarizes entries in a time window.
type Stats struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Total    int       `json:"total"`
	ByActor  []Count   `json:"by_actor"`
	ByAction []Count   `json:"by_action"`
}
