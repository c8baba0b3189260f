// Package severity classifies security events. Severity is a pure function of
// the event type; callers never choose it.
package severity

import (
	"warden/internal/activity/models"
)

var table = map[models.SecurityEventType]models.Severity{
	models.EventLoginSucceeded:            models.SeverityLow,
	models.EventPasswordChanged:           models.SeverityLow,
	models.EventSessionRevoked:            models.SeverityLow,
	models.EventFailedLogin:               models.SeverityMedium,
	models.EventSuspendedAccessAttempt:    models.SeverityMedium,
	models.EventRateLimitExceeded:         models.SeverityMedium,
	models.EventPermissionDenied:          models.SeverityHigh,
	models.EventUnauthorizedAccessAttempt: models.SeverityHigh,
	models.EventAuditWriteFailed:          models.SeverityHigh,
	models.EventBruteForceAttempt:         models.SeverityCritical,
}

// Classify returns the severity for t. Unknown types report false and must be rejected.
func Classify(t models.SecurityEventType) (models.Severity, bool) {
	s, ok := table[t]
	return s, ok
}

// Rank orders severities for threshold comparisons; unknown values rank below low.
func Rank(s models.Severity) int {
	switch s {
	case models.SeverityLow:
		return 1
	case models.SeverityMedium:
		return 2
	case models.SeverityHigh:
		return 3
	case models.SeverityCritical:
		return 4
	default:
		return 0
	}
}
