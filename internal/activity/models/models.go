package models

import (
	"strings"
	"time"

	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/validation"
)

// SecurityEventType identifies a security-relevant occurrence.
type SecurityEventType string

const (
	EventFailedLogin               SecurityEventType = "failed_login"
	EventLoginSucceeded            SecurityEventType = "login_succeeded"
	EventPasswordChanged           SecurityEventType = "password_changed"
	EventSessionRevoked            SecurityEventType = "session_revoked"
	EventPermissionDenied          SecurityEventType = "permission_denied"
	EventUnauthorizedAccessAttempt SecurityEventType = "unauthorized_access_attempt"
	EventSuspendedAccessAttempt    SecurityEventType = "suspended_access_attempt"
	EventRateLimitExceeded         SecurityEventType = "rate_limit_exceeded"
	EventBruteForceAttempt         SecurityEventType = "brute_force_attempt"
	EventAuditWriteFailed          SecurityEventType = "audit_write_failed"
)

// Severity is always derived from the event type.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity filter value.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid severity")
	}
}

// SecurityEvent is a persisted, write-once security fact. Only the resolution
// fields change after creation.
type SecurityEvent struct {
	ID          id.EventID        `json:"id"`
	UserID      *id.ActorID       `json:"user_id,omitempty"`
	Type        SecurityEventType `json:"event_type"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description"`
	IPAddress   string            `json:"ip_address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Resolved    bool              `json:"resolved"`
	ResolvedBy  *id.ActorID       `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// IdentityKey groups events for brute-force detection.
func (e *SecurityEvent) IdentityKey() string {
	return IdentityKey(e.UserID, e.IPAddress)
}

// IdentityKey prefers the user id and falls back to the IP address.
// Returns "" when neither is known.
func IdentityKey(userID *id.ActorID, ip string) string {
	if userID != nil && !userID.IsNil() {
		return "user:" + userID.String()
	}
	if ip != "" && ip != "unknown" {
		return "ip:" + ip
	}
	return ""
}

// SecurityEventInput is what callers submit; severity is not part of it.
type SecurityEventInput struct {
	UserID      *id.ActorID
	Type        SecurityEventType
	Description string
	IPAddress   string
	UserAgent   string
	Metadata    map[string]any
	OccurredAt  time.Time
}

// Validate rejects payloads that must never be partially persisted.
// Type membership is checked by the severity table.
func (in *SecurityEventInput) Validate() error {
	if strings.TrimSpace(string(in.Type)) == "" {
		return dErrors.New(dErrors.CodeValidation, "event_type is required")
	}
	if in.UserID != nil && in.UserID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "user_id cannot be nil")
	}
	if err := validation.CheckStringLength("description", in.Description, validation.MaxReasonLength); err != nil {
		return err
	}
	return validation.CheckSliceCount("metadata keys", len(in.Metadata), validation.MaxMetadataKeys)
}

// UserEventType identifies a product interaction feeding analytics.
type UserEventType string

const (
	UserRegistered  UserEventType = "user_registered"
	UserLoggedIn    UserEventType = "user_logged_in"
	ListingCreated  UserEventType = "listing_created"
	ListingViewed   UserEventType = "listing_viewed"
	MessageSent     UserEventType = "message_sent"
	SearchPerformed UserEventType = "search_performed"
	PageViewed      UserEventType = "page_viewed"
)

// UserEventTypes is the set accepted by Track.
var UserEventTypes = map[UserEventType]string{
	UserRegistered:  "auth",
	UserLoggedIn:    "auth",
	ListingCreated:  "listing",
	ListingViewed:   "listing",
	MessageSent:     "messaging",
	SearchPerformed: "search",
	PageViewed:      "navigation",
}

// UserEvent is a write-once product interaction.
type UserEvent struct {
	ID        id.EventID     `json:"id"`
	UserID    *id.ActorID    `json:"user_id,omitempty"`
	Type      UserEventType  `json:"event_type"`
	Category  string         `json:"category"`
	Data      map[string]any `json:"data,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IdentityKey selects the ordered queue shard for the event.
func (e *UserEvent) IdentityKey() string {
	return IdentityKey(e.UserID, e.IPAddress)
}

type UserEventInput struct {
	UserID     *id.ActorID
	Type       UserEventType
	Category   string
	Data       map[string]any
	IPAddress  string
	SessionID  string
	OccurredAt time.Time
}

func (in *UserEventInput) Validate() error {
	if _, ok := UserEventTypes[in.Type]; !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown user event type")
	}
	if in.UserID != nil && in.UserID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "user_id cannot be nil")
	}
	return validation.CheckSliceCount("data keys", len(in.Data), validation.MaxMetadataKeys)
}

// SecurityFilter narrows GetRecentSecurity. Zero values mean "no filter".
type SecurityFilter struct {
	Severity *Severity
	Type     SecurityEventType
	UserID   *id.ActorID
	Resolved *bool
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// CountQuery counts one event type for one identity inside (After, Until].
type CountQuery struct {
	Type      SecurityEventType
	UserID    *id.ActorID
	IPAddress string
	After     time.Time
	Until     time.Time
}

// SecurityPage is one slice of security events, newest first.
type SecurityPage struct {
	Events  []*SecurityEvent `json:"events"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"has_more"`
}
