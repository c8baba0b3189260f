package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"warden/internal/ratelimit/models"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/privacy"
	"warden/pkg/requestcontext"
)

// Limiter is satisfied by both the in-memory and the Redis backend.
type Limiter interface {
	Allow(ctx context.Context, key string) (models.Result, error)
}

// RejectHook is invoked once per rejected request before the 429 is written.
type RejectHook func(ctx context.Context, key string, res models.Result)

type Option func(*Middleware)

func WithRejectHook(hook RejectHook) Option {
	return func(m *Middleware) {
		m.onReject = hook
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		if now != nil {
			m.now = now
		}
	}
}

// Middleware throttles unauthenticated routes by client IP. Authenticated
// admin routes are throttled per actor by the access guard instead.
type Middleware struct {
	limiter  Limiter
	logger   *slog.Logger
	onReject RejectHook
	now      func() time.Time
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ByIP limits requests per resolved client IP. Backend errors fail open.
func (m *Middleware) ByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		key := IPKey(ip)

		result, err := m.limiter.Allow(ctx, key)
		if err != nil {
			m.logger.ErrorContext(ctx, "ratelimit_check_failed",
				"error", err,
				"ip_prefix", privacy.AnonymizeIP(ip),
			)
			next.ServeHTTP(w, r)
			return
		}

		SetHeaders(w, result)
		if !result.Allowed {
			if m.onReject != nil {
				m.onReject(ctx, key, result)
			}
			WriteExceeded(w, result, m.now())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActorKey is the limiter key for an authenticated actor.
func ActorKey(actorID string) string {
	return "actor:" + actorID
}

// IPKey is the limiter key for an anonymous client.
func IPKey(ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// SetHeaders writes the X-RateLimit-* headers for result.
func SetHeaders(w http.ResponseWriter, result models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// WriteExceeded writes the 429 response with Retry-After in whole seconds.
func WriteExceeded(w http.ResponseWriter, result models.Result, now time.Time) {
	retryAfter := result.RetryAfter(now)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limited",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: retryAfter,
	})
}
