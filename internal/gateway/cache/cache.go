package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keywheel/keywheel/internal/gateway/providers"
	"github.com/keywheel/keywheel/internal/shared/redis"
)

type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a new cache instance with a fixed TTL for stored responses
func New(redisClient *redis.Client, ttl time.Duration) *Cache {
	return &Cache{redis: redisClient, ttl: ttl}
}

// generateCacheKey generates a deterministic hash of the request. Hashing
// the JSON form keeps pointer-valued params stable across processes.
func (c *Cache) generateCacheKey(req providers.ChatRequest) string {
	payload, _ := json.Marshal(req)

	hash := sha256.Sum256(payload)
	return "cache:exact:" + hex.EncodeToString(hash[:])
}

// Get retrieves a cached response
func (c *Cache) Get(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	key := c.generateCacheKey(req)

	val, err := c.redis.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var cachedResp providers.ChatResponse
	if err := json.Unmarshal([]byte(val), &cachedResp); err != nil {
		return nil, fmt.Errorf("failed to deserialize cached response: %w", err)
	}

	return &cachedResp, nil
}

// Set stores a response in cache
func (c *Cache) Set(ctx context.Context, req providers.ChatRequest, resp *providers.ChatResponse) error {
	key := c.generateCacheKey(req)

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	return c.redis.Set(ctx, key, string(data), c.ttl)
}
