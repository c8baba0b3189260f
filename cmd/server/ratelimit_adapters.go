package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"warden/internal/access/guard"
	activitymodels "warden/internal/activity/models"
	"warden/internal/platform/config"
	"warden/internal/platform/redis"
	ratelimithandler "warden/internal/ratelimit/handler"
	"warden/internal/ratelimit/limiter"
	ratelimitmetrics "warden/internal/ratelimit/metrics"
	ratelimitmw "warden/internal/ratelimit/middleware"
	ratelimitmodels "warden/internal/ratelimit/models"
	redislimiter "warden/internal/ratelimit/store/redis"
	"warden/internal/ratelimit/workers/sweep"
	"warden/pkg/requestcontext"
)

// rateLimiter is what the guard and the reset endpoint share.
type rateLimiter interface {
	guard.RateLimiter
	ratelimithandler.Resetter
}

// limiters holds the per-actor limiter and the anonymous per-IP limiter. They
// run on the same backend with separate budgets.
type limiters struct {
	actor rateLimiter
	ip    ratelimitmw.Limiter
}

// buildLimiters returns the configured backend. The sweep worker is nil for
// the Redis backend because keys expire on their own there.
func buildLimiters(cfg config.RateLimitConfig, client *redis.Client, reg prometheus.Registerer, logger *slog.Logger) (limiters, *sweep.Worker) {
	m := ratelimitmetrics.New(reg)
	actorCfg := ratelimitmodels.Config{Limit: cfg.MaxRequests, Window: cfg.Window}
	ipCfg := ratelimitmodels.Config{Limit: cfg.IPMaxRequests, Window: cfg.IPWindow}

	if cfg.Backend == "redis" && client != nil {
		logger.Info("rate limiter backend selected", "backend", "redis")
		return limiters{
			actor: redislimiter.New(client.Client, actorCfg, redislimiter.WithMetrics(m)),
			ip:    redislimiter.New(client.Client, ipCfg, redislimiter.WithMetrics(m)),
		}, nil
	}

	logger.Info("rate limiter backend selected", "backend", "memory")
	actor := limiter.New(actorCfg, limiter.WithMetrics(m), limiter.WithScope("actor"))
	ip := limiter.New(ipCfg, limiter.WithMetrics(m), limiter.WithScope("ip"))
	worker := sweep.New(sweep.Multi{actor, ip},
		sweep.WithLogger(logger),
		sweep.WithInterval(cfg.SweepInterval),
		sweep.WithGrace(cfg.SweepGrace),
		sweep.WithMetrics(m),
	)
	return limiters{actor: actor, ip: ip}, worker
}

// securityTracker is the fire-and-forget side of the ingestor.
type securityTracker interface {
	TrackSecurity(ctx context.Context, in activitymodels.SecurityEventInput) error
}

// ipRejectHook turns an anonymous 429 into a rate_limit_exceeded event.
func ipRejectHook(tracker securityTracker, logger *slog.Logger) ratelimitmw.RejectHook {
	return func(ctx context.Context, key string, res ratelimitmodels.Result) {
		err := tracker.TrackSecurity(ctx, activitymodels.SecurityEventInput{
			Type:        activitymodels.EventRateLimitExceeded,
			Description: "anonymous request rate exceeded",
			IPAddress:   requestcontext.ClientIP(ctx),
			UserAgent:   requestcontext.UserAgent(ctx),
			Metadata: map[string]any{
				"key":      key,
				"limit":    res.Limit,
				"reset_at": res.ResetAt,
			},
		})
		if err != nil {
			logger.WarnContext(ctx, "rate_limit_event_dropped",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}
}
