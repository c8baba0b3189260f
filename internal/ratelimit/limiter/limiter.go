// Package limiter is the in-process fixed-window rate limiter. Each key owns
// a counter and a reset time; the window restarts lazily on the first call
// at or after resetAt.
package limiter

import (
	"context"
	"time"

	"warden/internal/ratelimit/metrics"
	"warden/internal/ratelimit/models"
	psync "warden/pkg/platform/sync"
)

type window struct {
	count   int
	resetAt time.Time
}

type Option func(*Limiter)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithScope labels this limiter's tracked-keys gauge, so several limiters can
// share one Metrics.
func WithScope(scope string) Option {
	return func(l *Limiter) {
		if scope != "" {
			l.scope = scope
		}
	}
}

// Limiter is safe for concurrent use. Increment and compare happen under the
// key's shard lock so no more than Limit calls pass per window.
type Limiter struct {
	windows *psync.ShardedMap[window]
	cfg     models.Config
	now     func() time.Time
	metrics *metrics.Metrics
	scope   string
}

func New(cfg models.Config, opts ...Option) *Limiter {
	defaults := models.DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	l := &Limiter{
		windows: psync.NewShardedMap[window](),
		cfg:     cfg,
		now:     time.Now,
		scope:   "default",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request for key. The context is unused; it keeps the
// signature shared with the Redis backend.
func (l *Limiter) Allow(_ context.Context, key string) (models.Result, error) {
	now := l.now()
	var res models.Result

	l.windows.Update(key, func(w window, exists bool) (window, bool) {
		if !exists || !now.Before(w.resetAt) {
			w = window{resetAt: now.Add(l.cfg.Window)}
		}
		res = models.Result{Limit: l.cfg.Limit, ResetAt: w.resetAt}
		if w.count >= l.cfg.Limit {
			return w, true
		}
		w.count++
		res.Allowed = true
		res.Remaining = l.cfg.Limit - w.count
		return w, true
	})

	l.metrics.ObserveDecision(res.Allowed)
	return res, nil
}

// Reset forgets key's window so its next request starts fresh. It reports
// whether an unexpired window was cleared.
func (l *Limiter) Reset(_ context.Context, key string) (bool, error) {
	now := l.now()
	var active bool
	l.windows.Update(key, func(w window, exists bool) (window, bool) {
		active = exists && now.Before(w.resetAt)
		return w, false
	})
	return active, nil
}

// Sweep evicts windows whose resetAt is more than grace in the past and
// returns how many were removed.
func (l *Limiter) Sweep(grace time.Duration) int {
	cutoff := l.now().Add(-grace)
	removed := l.windows.Sweep(func(_ string, w window) bool {
		return w.resetAt.Before(cutoff)
	})
	if l.metrics != nil {
		l.metrics.TrackedKeys.WithLabelValues(l.scope).Set(float64(l.windows.Len()))
	}
	return removed
}

// Len reports how many keys currently hold a window.
func (l *Limiter) Len() int {
	return l.windows.Len()
}

// Config returns the effective policy.
func (l *Limiter) Config() models.Config {
	return l.cfg
}
