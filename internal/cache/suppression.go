// Package cache holds Redis-backed caches used on the send path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/domain"
)

// DefaultSuppressionTTL bounds how long a suppressed verdict is trusted.
const DefaultSuppressionTTL = 24 * time.Hour

// SuppressionCache stores positive suppression verdicts keyed by the MD5 of
// the address, so raw emails never land in Redis.
type SuppressionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSuppressionCache creates a cache. A non-positive ttl means
// DefaultSuppressionTTL.
func NewSuppressionCache(client *redis.Client, ttl time.Duration) *SuppressionCache {
	if ttl <= 0 {
		ttl = DefaultSuppressionTTL
	}
	return &SuppressionCache{client: client, prefix: "drip:suppressed:", ttl: ttl}
}

func (c *SuppressionCache) key(email string) string {
	return c.prefix + domain.EmailHash(email)
}

// Get returns the cached reason, or false on a miss.
func (c *SuppressionCache) Get(ctx context.Context, email string) (domain.SuppressionReason, bool, error) {
	v, err := c.client.Get(ctx, c.key(email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("suppression cache get: %w", err)
	}
	return domain.SuppressionReason(v), true, nil
}

// Set records a suppressed verdict.
func (c *SuppressionCache) Set(ctx context.Context, email string, reason domain.SuppressionReason) error {
	if err := c.client.Set(ctx, c.key(email), string(reason), c.ttl).Err(); err != nil {
		return fmt.Errorf("suppression cache set: %w", err)
	}
	return nil
}
