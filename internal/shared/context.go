package shared

import "context"

// Actor carries the authenticated identity resolved by the gateway.
// Authentication itself happens upstream; the core only consumes the result.
type Actor struct {
	UserID      int64
	CompanyID   int64
	Permissions PermissionSet
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
