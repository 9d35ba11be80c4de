package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// TokenCache holds short-lived upstream auth tokens keyed per tenant and
// courier, so one tenant's expired credential can never bleed into
// another tenant's requests. The clock is injected to make expiry
// testable.
type TokenCache struct {
	c   *redis.Client
	now func() time.Time
}

func NewTokenCache(c *redis.Client, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{c: c, now: now}
}

func tokenKey(brandID, courier string) string {
	return fmt.Sprintf("token:%s:%s", brandID, courier)
}

// Get returns the cached token for the tenant, or "" on a miss.
func (tc *TokenCache) Get(ctx context.Context, brandID, courier string) (string, error) {
	val, err := tc.c.Get(ctx, tokenKey(brandID, courier)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "redis token get")
	}
	return val, nil
}

// Put stores a token until expiresAt (relative to the injected clock).
// Tokens already expired are not stored.
func (tc *TokenCache) Put(ctx context.Context, brandID, courier, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(tc.now())
	if ttl <= 0 {
		return nil
	}
	if err := tc.c.Set(ctx, tokenKey(brandID, courier), token, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis token set")
	}
	return nil
}

// Invalidate drops a tenant's token, e.g. after the upstream rejected it.
func (tc *TokenCache) Invalidate(ctx context.Context, brandID, courier string) error {
	if err := tc.c.Del(ctx, tokenKey(brandID, courier)).Err(); err != nil {
		return errors.Wrap(err, "redis token del")
	}
	return nil
}
