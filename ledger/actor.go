package ledger

import "context"

// SystemActor is reported as the actor of transitions not triggered by a caller, e.g. the sweep.
const SystemActor = "system"

type contextKey string

// ActorKey is the context key used to carry the identity of the caller.
const ActorKey contextKey = "ledger.actor"

// WithActor returns a context that carries the identity supplied by the authentication layer.
// It shows up in audit records.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFrom extracts the caller identity from the context, or SystemActor if there is none.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok && actor != "" {
		return actor
	}

	return SystemActor
}
