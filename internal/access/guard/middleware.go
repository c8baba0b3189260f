package guard

import (
	"context"
	"net/http"
	"time"

	"warden/internal/access/identity"
	"warden/internal/access/models"
	activitymodels "warden/internal/activity/models"
	ratelimitmw "warden/internal/ratelimit/middleware"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/privacy"
	"warden/pkg/requestcontext"
)

var errAccessDenied = dErrors.New(dErrors.CodeForbidden, "access denied")

// throttledKey marks a request already charged against the actor's window,
// so chained Require/RequireLevel middlewares count it once.
type throttledKey struct{}

func alreadyThrottled(ctx context.Context) bool {
	v, _ := ctx.Value(throttledKey{}).(bool)
	return v
}

// Require admits requests whose actor holds p, then applies the actor's rate limit.
func (g *Guard) Require(p models.Permission) func(http.Handler) http.Handler {
	return g.require(func(ctx context.Context, actor *models.Actor) Decision {
		return g.Check(ctx, actor, p)
	})
}

// RequireLevel admits requests whose actor's role sits at minLevel or above.
func (g *Guard) RequireLevel(minLevel int) func(http.Handler) http.Handler {
	return g.require(func(ctx context.Context, actor *models.Actor) Decision {
		return g.CheckLevel(ctx, actor, minLevel)
	})
}

func (g *Guard) require(check func(context.Context, *models.Actor) Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := identity.ActorFromContext(ctx)
			if actor == nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}

			if d := check(ctx, actor); !d.Allowed {
				g.logger.WarnContext(ctx, "access_denied",
					"actor_id", actor.ID.String(),
					"reason", string(d.Reason),
					"request_id", requestcontext.RequestID(ctx),
					"ip_prefix", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
				)
				httputil.WriteError(w, errAccessDenied)
				return
			}

			if alreadyThrottled(ctx) {
				next.ServeHTTP(w, r)
				return
			}
			if !g.throttle(w, r, actor) {
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, throttledKey{}, true)))
		})
	}
}

// throttle applies the per-actor window. It returns false once a 429 has been
// written. Limiter errors fail open.
func (g *Guard) throttle(w http.ResponseWriter, r *http.Request, actor *models.Actor) bool {
	if g.limiter == nil {
		return true
	}
	ctx := r.Context()
	key := ratelimitmw.ActorKey(actor.ID.String())

	res, err := g.limiter.Allow(ctx, key)
	if err != nil {
		g.logger.ErrorContext(ctx, "ratelimit_check_failed",
			"error", err,
			"actor_id", actor.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return true
	}

	ratelimitmw.SetHeaders(w, res)
	if res.Allowed {
		return true
	}

	now := g.clock(ctx)
	actorID := actor.ID
	_, err = g.events.RecordSecurity(ctx, activitymodels.SecurityEventInput{
		UserID:      &actorID,
		Type:        activitymodels.EventRateLimitExceeded,
		Description: "administrative request rate exceeded",
		IPAddress:   requestcontext.ClientIP(ctx),
		UserAgent:   requestcontext.UserAgent(ctx),
		Metadata: map[string]any{
			"limit":       res.Limit,
			"reset_at":    res.ResetAt.UTC().Format(time.RFC3339),
			"retry_after": res.RetryAfter(now),
			"path":        r.URL.Path,
		},
		OccurredAt: now,
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "ratelimit_event_failed", "error", err, "actor_id", actor.ID.String())
	}

	ratelimitmw.WriteExceeded(w, res, now)
	return false
}
