package shared

import "context"

// Role names an actor's permission level.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleFrontDesk Role = "frontdesk"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleFrontDesk
}

// Actor identifies the user behind a request. The ledger stamps Subject on
// the records it writes and never validates it.
type Actor struct {
	Subject string
	Role    Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
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
