// Package redis is the distributed fixed-window limiter. The increment,
// first-hit expiry and TTL read run as one Lua script so concurrent
// instances cannot interleave between them.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"warden/internal/ratelimit/metrics"
	"warden/internal/ratelimit/models"
)

const keyPrefix = "ratelimit:window:"

// KEYS[1] window key; ARGV[1] window in ms. Returns {count, pttl_ms}.
var fixedWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type Option func(*Limiter)

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

// Limiter shares windows across instances through Redis key expiry, so no
// sweep is needed.
type Limiter struct {
	client  redis.UniversalClient
	cfg     models.Config
	now     func() time.Time
	metrics *metrics.Metrics
}

func New(client redis.UniversalClient, cfg models.Config, opts ...Option) *Limiter {
	defaults := models.DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	l := &Limiter{client: client, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Allow(ctx context.Context, key string) (models.Result, error) {
	vals, err := fixedWindow.Run(ctx, l.client, []string{keyPrefix + key}, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		if l.metrics != nil {
			l.metrics.BackendErrors.Inc()
		}
		return models.Result{}, fmt.Errorf("run fixed window script: %w", err)
	}
	if len(vals) != 2 {
		return models.Result{}, fmt.Errorf("fixed window script returned %d values", len(vals))
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	res := models.Result{
		Allowed: count <= l.cfg.Limit,
		Limit:   l.cfg.Limit,
		ResetAt: l.now().Add(ttl),
	}
	if res.Allowed {
		res.Remaining = l.cfg.Limit - count
	}
	l.metrics.ObserveDecision(res.Allowed)
	return res, nil
}

// Reset deletes the window key. Keys carry the window TTL, so a deleted key
// was an active window.
func (l *Limiter) Reset(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Del(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("reset window: %w", err)
	}
	return n > 0, nil
}

func (l *Limiter) Config() models.Config {
	return l.cfg
}
