package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetScore retrieves a cached per-claim score.
	GetScore(ctx context.Context, tenantID string, analysisID, claimID string) (*ScoreCache, error)

	// SetScore caches a per-claim score for fast lookup.
	SetScore(ctx context.Context, tenantID string, analysisID, claimID string, data *ScoreCache, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for frequency checks (e.g., claims per policy in time window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ScoreCache holds cached score data served on the hot read path.
type ScoreCache struct {
	ClaimID     string   `json:"claimId"`
	Score       int      `json:"score"`
	RiskBand    string   `json:"riskLevel"`
	Reasons     []string `json:"reasons"`
	ClaimAmount float64  `json:"amt"`
	Timestamp   string   `json:"timestamp"`
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
