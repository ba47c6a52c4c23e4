package shared

import "context"

// Actor identifies the authenticated caller of a request. Token issuance and
// verification happen upstream; by the time a request reaches a handler the
// gateway has resolved the actor into trusted headers.
type Actor struct {
	ID    int64
	Admin bool
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor is
// returned when no actor was attached.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
