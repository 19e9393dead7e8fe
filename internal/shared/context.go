package shared

import (
	"context"
	"errors"

	"github.com/ctc-stipend/stipend/internal/status"
)

// ErrActorMissing indicates a request arrived without actor identity.
var ErrActorMissing = errors.New("actor identity missing")

// Actor identifies the caller performing an operation.
type Actor struct {
	ID   int64
	Role status.Role
}

// SystemActor is the identity jobs act under.
func SystemActor() Actor {
	return Actor{Role: status.RoleSystem}
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// RequireActor is ActorFromContext for callers that cannot proceed anonymously.
func RequireActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, ErrActorMissing
	}
	return actor, nil
}
