package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// routePatternKey is the context key storing matched route pattern.
type routePatternKey struct{}

// WithRoutePattern stores the matched router pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext extracts the route pattern from context if present.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}

type annotationsKey struct{}

type annotations struct {
	mu      sync.Mutex
	cashier string
}

func (a *annotations) cashierID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cashier
}

func withAnnotations(ctx context.Context) (context.Context, *annotations) {
	ann := &annotations{}
	return context.WithValue(ctx, annotationsKey{}, ann), ann
}

// AnnotateCashier attaches the authenticated cashier to the request log line
// and the active span. Handlers deeper in the chain call it once the token
// has been verified.
func AnnotateCashier(ctx context.Context, cashierID string) {
	if ann, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		ann.mu.Lock()
		ann.cashier = cashierID
		ann.mu.Unlock()
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("pos.cashier_id", cashierID))
}
