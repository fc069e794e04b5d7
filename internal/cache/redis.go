package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fraudlab/harrier/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements domain.Cache using Redis.
// Used as the Pro tier cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, c.makeKey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return c.client.Set(ctx, c.makeKey(tenantID, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	return c.client.Del(ctx, c.makeKey(tenantID, key)).Err()
}

// GetResult retrieves a cached detection result.
func (c *RedisCache) GetResult(ctx context.Context, tenantID string, resultID string) (*domain.DetectionResult, error) {
	data, err := c.Get(ctx, tenantID, resultKey(resultID))
	if err != nil || data == nil {
		return nil, err
	}

	var res domain.DetectionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &res, nil
}

// SetResult caches a detection result.
func (c *RedisCache) SetResult(ctx context.Context, tenantID string, res *domain.DetectionResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return c.Set(ctx, tenantID, resultKey(res.ID), data, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(tenantID, key string) string {
	return "harrier:" + tenantID + ":" + key
}
