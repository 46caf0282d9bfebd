package shared

import (
	"context"

	"github.com/vantage-admin/vantage/internal/hierarchy"
)

type sessionContextKey struct{}

type actorContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithActor stores the resolved actor snapshot in context so it is
// loaded at most once per request.
func ContextWithActor(ctx context.Context, actor hierarchy.Subject) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor snapshot from context. The second
// return value reports whether an actor was resolved for this request.
func ActorFromContext(ctx context.Context) (hierarchy.Subject, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(hierarchy.Subject)
	return actor, ok
}
