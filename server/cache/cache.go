package cache

import (
	"context"
	"errors"
	"time"
)

// Cache stores JSON-serialisable values under string keys. The controller
// publishes its latest state here so dashboards and other processes can read
// it without touching the frame path.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}) error

	Get(ctx context.Context, key string, dest interface{}) error

	Delete(ctx context.Context, key string) error

	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	GetStats(ctx context.Context) (*CacheStats, error)

	Close() error
}

type CacheStats struct {
	Backend   string `json:"backend"`
	Connected bool   `json:"connected"`
	Info      string `json:"info"`
}

var ErrCacheMiss = errors.New("cache miss")
