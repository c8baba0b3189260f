package main

import (
	"context"
	"log/slog"
	"time"

	accessmodels "warden/internal/access/models"
	activitydetector "warden/internal/activity/detector"
	activityingestor "warden/internal/activity/ingestor"
	activityservice "warden/internal/activity/service"
	activitymemory "warden/internal/activity/store/memory"
	activitypostgres "warden/internal/activity/store/postgres"
	"warden/internal/analytics/definitions"
	analyticsengine "warden/internal/analytics/engine"
	analyticsmemory "warden/internal/analytics/store/memory"
	analyticspostgres "warden/internal/analytics/store/postgres"
	auditservice "warden/internal/audit/service"
	auditmemory "warden/internal/audit/store/memory"
	auditpostgres "warden/internal/audit/store/postgres"
	moderationmemory "warden/internal/moderation/store/memory"
	moderationpostgres "warden/internal/moderation/store/postgres"
	"warden/internal/platform/config"
	"warden/internal/platform/database"
	"warden/migrations"
	id "warden/pkg/domain"
)

// actorStore is read by authentication and written by moderation.
type actorStore interface {
	Create(ctx context.Context, actor *accessmodels.Actor) error
	GetActor(ctx context.Context, actorID id.ActorID) (*accessmodels.Actor, error)
	Update(ctx context.Context, actorID id.ActorID, fn func(*accessmodels.Actor) error) (*accessmodels.Actor, error)
}

// activityStore backs ingestion, detection, admin reads and aggregation.
type activityStore interface {
	activityingestor.Store
	activitydetector.Counter
	activityservice.Store
	definitions.Source
}

type backends struct {
	pool      *database.Pool
	actors    actorStore
	audit     auditservice.Store
	activity  activityStore
	analytics analyticsengine.Store
}

// openBackends selects Postgres when a database URL is configured and the
// in-memory stores otherwise.
func openBackends(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*backends, error) {
	pool, err := database.New(ctx, database.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	if pool == nil {
		logger.Warn("no database configured, using in-memory stores")
		return &backends{
			actors:    moderationmemory.New(),
			audit:     auditmemory.New(),
			activity:  activitymemory.New(),
			analytics: analyticsmemory.New(),
		}, nil
	}

	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := pool.Migrate(migrateCtx, migrations.FS); err != nil {
			pool.Close() //nolint:errcheck // best-effort cleanup on init failure
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	return &backends{
		pool:      pool,
		actors:    moderationpostgres.New(pool),
		audit:     auditpostgres.New(pool.DB()),
		activity:  activitypostgres.New(pool.DB()),
		analytics: analyticspostgres.New(pool),
	}, nil
}

func (b *backends) Close() error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Close()
}
