package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"warden/internal/access/guard"
	"warden/internal/access/identity"
	accessmetrics "warden/internal/access/metrics"
	accessmodels "warden/internal/access/models"
	"warden/internal/access/registry"
	"warden/internal/activity/detector"
	activityhandler "warden/internal/activity/handler"
	"warden/internal/activity/ingestor"
	activitymetrics "warden/internal/activity/metrics"
	"warden/internal/activity/notifier"
	activityservice "warden/internal/activity/service"
	analyticsengine "warden/internal/analytics/engine"
	analyticshandler "warden/internal/analytics/handler"
	analyticsmetrics "warden/internal/analytics/metrics"
	"warden/internal/analytics/scheduler"
	audithandler "warden/internal/audit/handler"
	auditmetrics "warden/internal/audit/metrics"
	auditservice "warden/internal/audit/service"
	moderationhandler "warden/internal/moderation/handler"
	moderationservice "warden/internal/moderation/service"
	"warden/internal/moderation/sessions"
	"warden/internal/platform/config"
	"warden/internal/platform/health"
	"warden/internal/platform/kafka/producer"
	"warden/internal/platform/logger"
	"warden/internal/platform/metrics"
	"warden/internal/platform/redis"
	"warden/internal/platform/supervisor"
	ratelimithandler "warden/internal/ratelimit/handler"
	ratelimitmw "warden/internal/ratelimit/middleware"
	id "warden/pkg/domain"
	"warden/pkg/platform/circuit"
	"warden/pkg/platform/middleware/metadata"
	"warden/pkg/platform/middleware/request"
	"warden/pkg/platform/sentinel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("initializing warden",
		"addr", cfg.Server.Addr,
		"internal_addr", cfg.Server.InternalAddr,
		"ratelimit_backend", cfg.RateLimit.Backend,
	)

	reg := metrics.NewRegistry()
	checks := health.New()

	stores, err := openBackends(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer stores.Close() //nolint:errcheck // shutdown path
	if stores.pool != nil {
		checks.RegisterCheck("database", stores.pool.Health)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, reg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck // shutdown path
		checks.RegisterCheck("redis", redisClient.Health)
	}

	alerts := notifier.Multi{notifier.NewLog(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		prod, err := producer.New(producer.Config{
			Brokers:         cfg.Kafka.Brokers,
			ClientID:        cfg.Kafka.ClientID,
			DeliveryTimeout: 5 * time.Second,
		}, log)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer prod.Close() //nolint:errcheck // shutdown path
		checks.RegisterCheck("kafka", prod.Health)
		breaker := circuit.New("security-alerts", circuit.WithLogger(log))
		alerts = append(alerts, notifier.NewKafka(prod, cfg.Kafka.AlertsTopic, breaker))
	}

	events := ingestor.New(stores.activity,
		ingestor.WithLogger(log),
		ingestor.WithMetrics(activitymetrics.New(reg)),
		ingestor.WithDetector(detector.New(stores.activity,
			detector.WithWindow(cfg.Threat.BruteForceWindow),
			detector.WithThreshold(cfg.Threat.BruteForceThreshold),
		)),
		ingestor.WithNotifier(alerts),
		ingestor.WithShards(cfg.Threat.QueueShards),
		ingestor.WithQueueSize(cfg.Threat.QueueSize),
	)
	defer events.Close()

	limits, sweeper := buildLimiters(cfg.RateLimit, redisClient, reg, log)

	roles := registry.Default()
	access := guard.New(roles, events,
		guard.WithLogger(log),
		guard.WithMetrics(accessmetrics.New(reg)),
		guard.WithRateLimiter(limits.actor),
	)

	audit := auditservice.New(stores.audit,
		auditservice.WithLogger(log),
		auditservice.WithMetrics(auditmetrics.New(reg)),
		auditservice.WithSecurityTracker(events),
	)

	activity := activityservice.New(stores.activity, audit, activityservice.WithLogger(log))

	engine := analyticsengine.New(stores.activity, stores.analytics,
		analyticsengine.WithLogger(log),
		analyticsengine.WithMetrics(analyticsmetrics.New(reg)),
		analyticsengine.WithTracer(otel.Tracer("warden/analytics")),
		analyticsengine.WithTimeout(cfg.Aggregation.RunTimeout),
	)
	aggregation, err := scheduler.New(engine, cfg.Aggregation.Schedule,
		scheduler.WithLogger(log),
		scheduler.WithLookback(cfg.Aggregation.LookbackDays),
	)
	if err != nil {
		return fmt.Errorf("create aggregation scheduler: %w", err)
	}

	var revoker moderationservice.SessionRevoker = sessions.NewNoopRevoker(log)
	if redisClient != nil {
		revoker = sessions.NewRedisRevoker(redisClient.Client, log)
	}
	moderation := moderationservice.New(stores.actors, revoker, audit, roles,
		moderationservice.WithLogger(log),
		moderationservice.WithSecurityRecorder(events),
	)

	if err := bootstrapAdmin(ctx, stores.actors, cfg.Server.BootstrapAdmin, roles.TopRole(), log); err != nil {
		return err
	}

	trusted, err := metadata.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	tokens := identity.NewTokenService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, time.Hour)
	activityHTTP := activityhandler.New(activity, events, log)

	public := newPublicRouter(publicRoutes{
		logger:     log,
		timeout:    cfg.Server.RequestTimeout,
		metadata:   metadata.NewMiddleware(trusted),
		ipLimit:    ratelimitmw.New(limits.ip, log, ratelimitmw.WithRejectHook(ipRejectHook(events, log))),
		latency:    request.NewMetrics(reg),
		validator:  tokens,
		actors:     stores.actors,
		guard:      access,
		audit:      audithandler.New(audit, log),
		activity:   activityHTTP,
		ratelimit:  ratelimithandler.New(limits.actor, audit, log),
		analytics:  analyticshandler.New(engine, audit, log),
		moderation: moderationhandler.New(moderation, log),
	})
	internal := newInternalRouter(log, reg, checks, activityHTTP)

	tree := supervisor.New(log, supervisor.DefaultConfig())
	if sweeper != nil {
		tree.AddWorker(sweeper)
	}
	tree.AddWorker(aggregation)
	if redisClient != nil {
		tree.AddWorker(redis.NewPoolStatsWorker(redisClient, 15*time.Second))
	}
	tree.AddAPI(supervisor.NewHTTPService(&http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           public,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}, 10*time.Second))
	tree.AddAPI(supervisor.NewHTTPService(&http.Server{
		Addr:              cfg.Server.InternalAddr,
		Handler:           internal,
		ReadHeaderTimeout: 5 * time.Second,
	}, 10*time.Second))

	log.Info("starting http servers",
		"addr", cfg.Server.Addr,
		"internal_addr", cfg.Server.InternalAddr,
	)

	err = tree.Serve(ctx)
	log.Info("shutting down gracefully")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// bootstrapAdmin creates the configured top-level actor once. An existing
// actor with that id is left untouched.
func bootstrapAdmin(ctx context.Context, actors actorStore, raw string, role accessmodels.Role, log *slog.Logger) error {
	if raw == "" {
		return nil
	}
	actorID, err := id.ParseActorID(raw)
	if err != nil {
		return fmt.Errorf("parse bootstrap admin: %w", err)
	}
	err = actors.Create(ctx, &accessmodels.Actor{
		ID:        actorID,
		Role:      role,
		UpdatedAt: time.Now().UTC(),
	})
	switch {
	case err == nil:
		log.Info("bootstrap admin created", "actor_id", actorID.String(), "role", role)
	case errors.Is(err, sentinel.ErrAlreadyExists):
	default:
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	return nil
}
