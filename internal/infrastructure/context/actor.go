package context

import "context"

// ActorKey is the context key for the authenticated caller.
const ActorKey contextKey = "actor"

// WithActor records who triggered the work carried by ctx. HTTP requests use
// the JWT subject, CLI runs use "cli".
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor returns the caller recorded in ctx, or "" when none is present.
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok {
		return actor
	}
	return ""
}
