// Package identity resolves a request's bearer token to an access Actor
// before the guard runs.
package identity

import (
	"context"

	"warden/internal/access/models"
)

type contextKeyActor struct{}

// WithActor stores the resolved actor on ctx.
func WithActor(ctx context.Context, actor *models.Actor) context.Context {
	return context.WithValue(ctx, contextKeyActor{}, actor)
}

// ActorFromContext returns the actor resolved for this request, or nil.
func ActorFromContext(ctx context.Context) *models.Actor {
	if a, ok := ctx.Value(contextKeyActor{}).(*models.Actor); ok {
		return a
	}
	return nil
}
