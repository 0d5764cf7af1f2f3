package fleet

import "context"

type actorKey struct{}

const SystemActor = "system"

// WithActor tags ctx with the operator on whose behalf work runs. History
// entries carry it.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return SystemActor
}
