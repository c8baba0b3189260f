package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"warden/internal/access/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// TokenValidator turns a bearer token into an actor id.
type TokenValidator interface {
	Validate(token string) (id.ActorID, error)
}

// ActorLoader fetches the current actor state. Implementations return an
// error wrapping sentinel.ErrNotFound for unknown actors.
type ActorLoader interface {
	GetActor(ctx context.Context, actorID id.ActorID) (*models.Actor, error)
}

// Authenticate resolves the Authorization header to an Actor and stores it
// on the request context. Missing, invalid or unknown identities get a 401.
func Authenticate(validator TokenValidator, loader ActorLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			actorID, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			actor, err := loader.GetActor(ctx, actorID)
			if err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					logger.WarnContext(ctx, "unauthorized access - unknown actor",
						"actor_id", actorID.String(),
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
					return
				}
				logger.ErrorContext(ctx, "failed to load actor",
					"error", err,
					"actor_id", actorID.String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve identity"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(ctx, actor)))
		})
	}
}
