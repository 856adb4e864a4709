package client

import "context"

// RouteKey identifies the logical request stream a dial belongs to. It only affects new
// dials: with mirrors configured keep-alives are off, so every attempt of a chunk dials
// and picks its mirror from the key and the attempt number.
type RouteKey struct {
	URL   string
	Chunk int
}

type routeKeyCtxKey struct{}

type attemptCtxKey struct{}

func WithRouteKey(ctx context.Context, key RouteKey) context.Context {
	return context.WithValue(ctx, routeKeyCtxKey{}, key)
}

func RouteKeyFromContext(ctx context.Context) (RouteKey, bool) {
	key, ok := ctx.Value(routeKeyCtxKey{}).(RouteKey)
	return key, ok
}

// WithAttempt records the zero-based attempt number of a retried operation.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptCtxKey{}, attempt)
}

func AttemptFromContext(ctx context.Context) int {
	attempt, _ := ctx.Value(attemptCtxKey{}).(int)
	return attempt
}
