package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require businessID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, businessID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, businessID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, businessID string, key string) error

	// GetKeywords retrieves a cached active keyword set for a language.
	GetKeywords(ctx context.Context, businessID string, language string) ([]*RedFlagKeyword, error)

	// SetKeywords caches the active keyword set for a language.
	SetKeywords(ctx context.Context, businessID string, language string, keywords []*RedFlagKeyword, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and returns
	// the new value. Used for per-customer feedback-rate signals and API
	// submission rate limiting.
	IncrementCounter(ctx context.Context, businessID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// KeywordCacheKey builds the cache key for an active keyword set.
func KeywordCacheKey(language string) string {
	return "keywords:" + language
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
