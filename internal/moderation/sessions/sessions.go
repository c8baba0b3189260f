// Package sessions revokes the active sessions of a moderated actor.
//
// Sessions are owned by the authentication service: a set user_sessions:<actor>
// lists session ids and each session lives under session:<id>.
package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	id "warden/pkg/domain"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

// RedisRevoker deletes an actor's sessions from the shared session store.
type RedisRevoker struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedisRevoker(client redis.UniversalClient, logger *slog.Logger) *RedisRevoker {
	return &RedisRevoker{client: client, logger: logger}
}

// RevokeAllSessions deletes every session of actorID. An actor without
// sessions is not an error.
func (r *RedisRevoker) RevokeAllSessions(ctx context.Context, actorID id.ActorID) error {
	userKey := userSessionKeyPrefix + actorID.String()
	sessionIDs, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("list sessions for %s: %w", actorID, err)
	}

	pipe := r.client.TxPipeline()
	for _, sid := range sessionIDs {
		pipe.Del(ctx, sessionKeyPrefix+sid)
	}
	pipe.Del(ctx, userKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete sessions for %s: %w", actorID, err)
	}

	r.logger.InfoContext(ctx, "sessions_revoked",
		"actor_id", actorID.String(),
		"count", len(sessionIDs),
	)
	return nil
}

// NoopRevoker only logs. It is used when no session store is configured.
type NoopRevoker struct {
	logger *slog.Logger
}

func NewNoopRevoker(logger *slog.Logger) *NoopRevoker {
	return &NoopRevoker{logger: logger}
}

func (n *NoopRevoker) RevokeAllSessions(ctx context.Context, actorID id.ActorID) error {
	n.logger.WarnContext(ctx, "session revocation skipped, no session store configured",
		"actor_id", actorID.String(),
	)
	return nil
}
