package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const policyKeyPrefix = "stockledger:rules:policy:"

// Cache stores policies in Redis as JSON.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A zero ttl defaults to five minutes.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func policyKey(tenantID int64) string {
	return fmt.Sprintf("%s%d", policyKeyPrefix, tenantID)
}

// Get loads a cached policy. The boolean is false on a miss.
func (c *Cache) Get(ctx context.Context, tenantID int64) (Policy, bool, error) {
	if c == nil || c.client == nil {
		return Policy{}, false, nil
	}
	raw, err := c.client.Get(ctx, policyKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		_ = c.client.Del(ctx, policyKey(tenantID)).Err()
		return Policy{}, false, nil
	}
	return p, true, nil
}

// Set stores policy with the configured TTL.
func (c *Cache) Set(ctx context.Context, p Policy) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, policyKey(p.TenantID), raw, c.ttl).Err()
}

// Invalidate drops the cached policy for tenant.
func (c *Cache) Invalidate(ctx context.Context, tenantID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, policyKey(tenantID)).Err()
}
