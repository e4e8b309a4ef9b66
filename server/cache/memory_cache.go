package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryCache keeps encoded values in process. Values round-trip through JSON
// so Get behaves the same as the Redis backend.
type MemoryCache struct {
	items   map[string]*CacheItem
	mutex   sync.RWMutex
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
}

type CacheItem struct {
	Value     []byte
	ExpiresAt time.Time
	LastUsed  time.Time
}

// NewMemoryCache creates a cache holding at most maxSize items. A zero ttl
// keeps items until evicted.
func NewMemoryCache(maxSize int, ttl time.Duration, logger *zap.Logger) *MemoryCache {
	return &MemoryCache{
		items:   make(map[string]*CacheItem),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
	}
}

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *MemoryCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictLRU()
	}

	item := &CacheItem{Value: data, LastUsed: time.Now()}
	if ttl > 0 {
		item.ExpiresAt = item.LastUsed.Add(ttl)
	}
	c.items[key] = item
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	item, exists := c.items[key]
	if !exists {
		return ErrCacheMiss
	}
	if !item.ExpiresAt.IsZero() && time.Now().After(item.ExpiresAt) {
		delete(c.items, key)
		return ErrCacheMiss
	}

	item.LastUsed = time.Now()
	return json.Unmarshal(item.Value, dest)
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
	return nil
}

func (c *MemoryCache) GetStats(ctx context.Context) (*CacheStats, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return &CacheStats{
		Backend:   "memory",
		Connected: true,
		Info:      fmt.Sprintf("items=%d,max_size=%d", len(c.items), c.maxSize),
	}, nil
}

func (c *MemoryCache) Close() error {
	return nil
}

func (c *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.LastUsed
		}
	}

	if oldestKey != "" {
		c.logger.Debug("Evicting cache item", zap.String("key", oldestKey))
		delete(c.items, oldestKey)
	}
}
