package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"warden/internal/access/guard"
	"warden/internal/access/identity"
	activityhandler "warden/internal/activity/handler"
	analyticshandler "warden/internal/analytics/handler"
	audithandler "warden/internal/audit/handler"
	moderationhandler "warden/internal/moderation/handler"
	"warden/internal/platform/health"
	"warden/internal/platform/metrics"
	ratelimithandler "warden/internal/ratelimit/handler"
	ratelimitmw "warden/internal/ratelimit/middleware"
	"warden/pkg/platform/middleware/metadata"
	"warden/pkg/platform/middleware/request"
	"warden/pkg/validation"
)

type publicRoutes struct {
	logger     *slog.Logger
	timeout    time.Duration
	metadata   *metadata.Middleware
	ipLimit    *ratelimitmw.Middleware
	latency    *request.Metrics
	validator  identity.TokenValidator
	actors     identity.ActorLoader
	guard      *guard.Guard
	audit      *audithandler.Handler
	activity   *activityhandler.Handler
	ratelimit  *ratelimithandler.Handler
	analytics  *analyticshandler.Handler
	moderation *moderationhandler.Handler
}

// newPublicRouter serves the admin API. Every /admin route is authenticated
// and then gated per permission by the guard.
func newPublicRouter(p publicRoutes) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(p.logger))
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(p.metadata.Handler)
	r.Use(request.Logger(p.logger))
	r.Use(request.Latency(p.latency))
	r.Use(request.Timeout(p.timeout))
	r.Use(request.BodyLimit(validation.MaxBodySize))

	r.Group(func(r chi.Router) {
		r.Use(p.ipLimit.ByIP)
		r.Use(identity.Authenticate(p.validator, p.actors, p.logger))

		p.audit.Register(r, p.guard)
		p.activity.Register(r, p.guard)
		p.ratelimit.Register(r, p.guard)
		p.analytics.Register(r, p.guard)
		p.moderation.Register(r, p.guard)
	})

	return r
}

// newInternalRouter serves probes, metrics and event intake. It must not be
// exposed outside the cluster.
func newInternalRouter(logger *slog.Logger, reg *prometheus.Registry, checks *health.Handler, activity *activityhandler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(request.BodyLimit(validation.MaxBodySize))

	r.Handle("/metrics", metrics.Handler(reg))
	checks.Register(r)
	activity.RegisterIntake(r)

	return r
}
