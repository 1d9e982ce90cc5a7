package tokens

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const Issuer = "ts-licensing"

type TokenType string

const (
	Access  TokenType = "access"
	Service TokenType = "service"
)

// Operator API scopes
const (
	ScopeAttemptsRead     = "attempts:read"
	ScopeActivationsRead  = "activations:read"
	ScopeActivationsWrite = "activations:write"
)

type Claims struct {
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"sub"`
	TokenType TokenType `json:"token_type"`
	Scopes    []string  `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

type Manager struct {
	signingKey []byte
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey)}
}

// GenerateOperatorToken issues an access token for the operator API.
func (m *Manager) GenerateOperatorToken(operatorID, orgID string, scopes []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return m.generateToken(operatorID, orgID, Access, scopes, ttl)
}

func (m *Manager) generateToken(userID, orgID string, tokenType TokenType, scopes []string, duration time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		OrgID:     orgID,
		UserID:    userID,
		TokenType: tokenType,
		Scopes:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(), // jti
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// Add Kid for future key rotation support, even if using single key now
	token.Header["kid"] = "v1"

	return token.SignedString(m.signingKey)
}

func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
