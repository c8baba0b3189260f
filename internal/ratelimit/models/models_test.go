package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 30, Result{ResetAt: now.Add(30 * time.Second)}.RetryAfter(now))
	assert.Equal(t, 2, Result{ResetAt: now.Add(1100 * time.Millisecond)}.RetryAfter(now), "rounds up")
	assert.Equal(t, 1, Result{ResetAt: now.Add(-time.Second)}.RetryAfter(now), "never below one")
}
