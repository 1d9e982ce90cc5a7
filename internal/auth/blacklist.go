package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/technosupport/ts-licensing/internal/tokens"
)

var ErrNoTokenID = errors.New("token has no jti")

// TokenBlacklist tracks revoked operator tokens by org and jti.
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, orgID, jti string) (bool, error)
	AddToBlacklist(ctx context.Context, orgID, jti string, ttl time.Duration) error
}

type RedisBlacklist struct {
	client redis.UniversalClient
}

func NewRedisBlacklist(client redis.UniversalClient) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func blacklistKey(orgID, jti string) string {
	return fmt.Sprintf("revoked:%s:%s", orgID, jti)
}

func (r *RedisBlacklist) IsBlacklisted(ctx context.Context, orgID, jti string) (bool, error) {
	exists, err := r.client.Exists(ctx, blacklistKey(orgID, jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (r *RedisBlacklist) AddToBlacklist(ctx context.Context, orgID, jti string, ttl time.Duration) error {
	return r.client.Set(ctx, blacklistKey(orgID, jti), "revoked", ttl).Err()
}

// Revoke blacklists a token until it would have expired anyway. Tokens
// already past expiry are a no-op.
func Revoke(ctx context.Context, bl TokenBlacklist, claims *tokens.Claims, now time.Time) error {
	if claims.ID == "" {
		return ErrNoTokenID
	}
	ttl := time.Hour
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return nil
		}
	}
	return bl.AddToBlacklist(ctx, claims.OrgID, claims.ID, ttl)
}
