// Package kit holds small cross-transport helpers: request-scoped context
// values and MCP tool registration.
package kit

import "context"

type contextKey string

const (
	// TransportKey records which transport served the request: "http", "mcp".
	TransportKey contextKey = "kit_transport"

	// TraceIDKey carries the per-request trace ID.
	TraceIDKey contextKey = "kit_trace_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}
