package validation

import (
	"fmt"

	dErrors "warden/pkg/domain-errors"
)

// MaxBodySize is the maximum allowed request body size (64 KB).
const MaxBodySize = 64 * 1024

const (
	// MaxReasonLength bounds free-text moderation reasons.
	MaxReasonLength = 1000

	// MaxMetadataKeys bounds top-level keys in caller-supplied metadata maps.
	MaxMetadataKeys = 50

	// MaxPageSize caps audit and security event query pages.
	MaxPageSize = 500

	// DefaultPageSize is used when a query omits limit.
	DefaultPageSize = 50

	// MaxTrendDays caps the window of a trend query.
	MaxTrendDays = 366
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// ClampPageSize applies DefaultPageSize to non-positive limits and caps the rest at MaxPageSize.
func ClampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
