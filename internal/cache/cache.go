// Package cache provides caching implementations for harrier.
package cache

import (
	"fmt"

	"github.com/fraudlab/harrier/internal/domain"
)

// New creates a new cache based on configuration.
// Community tier: local LRU. Pro tier: Redis.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// resultKey builds the cache key for a detection result.
func resultKey(resultID string) string {
	return "result:" + resultID
}
