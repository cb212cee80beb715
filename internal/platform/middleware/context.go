// Package middleware carries the Gateway's request-scoped context values
// and Echo middleware, adapted from go-core/middleware/context.go's
// context-key pattern to MNX's API-key/scope auth model and correlation-ID
// propagation (spec §4.2).
package middleware

import "context"

type contextKey string

const (
	// PrincipalKey is the context key for the authenticated API key's
	// configured name/identifier.
	PrincipalKey contextKey = "principal"
	// ScopeKey is the context key for the authenticated key's scope
	// (admin | write | read).
	ScopeKey contextKey = "scope"
	// CorrelationIDKey is the context key for the request's correlation ID,
	// which the Gateway echoes as a response header and logs when appending
	// an event. It is not written into the event envelope.
	CorrelationIDKey contextKey = "correlation_id"
)

// WithPrincipal returns a new context with the authenticated principal set.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithScope returns a new context with the authenticated key's scope set.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// WithCorrelationID returns a new context with the request's correlation ID
// set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetPrincipal extracts the authenticated principal from the context.
func GetPrincipal(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(PrincipalKey).(string)
	return v, ok
}

// GetScope extracts the authenticated key's scope from the context.
func GetScope(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ScopeKey).(string)
	return v, ok
}

// GetCorrelationID extracts the request's correlation ID from the context.
func GetCorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(CorrelationIDKey).(string)
	return v, ok
}
