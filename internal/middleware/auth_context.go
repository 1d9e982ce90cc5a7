package middleware

import (
	"context"
	"slices"
)

type contextKey string

const (
	AuthContextKey contextKey = "auth_context"
	RequestIDKey   contextKey = "request_id"
)

// AuthContext holds the authenticated operator's identity and scopes
type AuthContext struct {
	OrgID      string
	OperatorID string
	TokenID    string // jti
	Scopes     []string
}

func (a *AuthContext) HasScope(scope string) bool {
	return slices.Contains(a.Scopes, scope)
}

// GetAuthContext retrieves the AuthContext from the context
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return val, ok
}

// WithAuthContext attaches the AuthContext to the context
func WithAuthContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, auth)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
