package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/technosupport/ts-licensing/internal/auth"
	"github.com/technosupport/ts-licensing/internal/tokens"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens    TokenValidator
	blacklist auth.TokenBlacklist
}

func NewJWTAuth(t TokenValidator, b auth.TokenBlacklist) *JWTAuth {
	return &JWTAuth{tokens: t, blacklist: b}
}

var (
	errMissingToken = errors.New("missing bearer token")
	errTokenType    = errors.New("invalid token type")
	errRevoked      = errors.New("token revoked")
)

// authenticate is shared by the HTTP and gRPC paths.
func (m *JWTAuth) authenticate(ctx context.Context, header string) (*AuthContext, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return nil, errMissingToken
	}

	// 1. Validate Signature & Claims
	claims, err := m.tokens.ValidateToken(parts[1])
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokens.Access {
		return nil, errTokenType
	}

	// 2. Check Blacklist. Fail closed.
	blacklisted, err := m.blacklist.IsBlacklisted(ctx, claims.OrgID, claims.ID)
	if err != nil || blacklisted {
		return nil, errRevoked
	}

	return &AuthContext{
		OrgID:      claims.OrgID,
		OperatorID: claims.UserID,
		TokenID:    claims.ID,
		Scopes:     claims.Scopes,
	}, nil
}

// Middleware verifies the JWT and injects AuthContext
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := m.authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// RequireScope rejects authenticated callers without scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := GetAuthContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !ac.HasScope(scope) {
				writeError(w, r, http.StatusForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
