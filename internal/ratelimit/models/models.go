package models

import (
	"math"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter returns whole seconds until ResetAt, rounded up and never below 1.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Config is the fixed-window policy: at most Limit requests per Window.
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig allows 100 requests per minute.
func DefaultConfig() Config {
	return Config{Limit: 100, Window: time.Minute}
}

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// ResetResponse is returned by the admin reset endpoint.
type ResetResponse struct {
	Key   string `json:"key"`
	Reset bool   `json:"reset"`
}
