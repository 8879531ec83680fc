package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sashko-guz/kvstore/internal/logger"
)

// Memory cache kinds accepted by NewMemoryCache
const (
	KindRistretto = "ristretto"
	KindLRU       = "lru"
)

var memLog = logger.New("MemoryCache")

// MemoryCache is the in-process layer in front of the disk cache and the
// backend. Delete must take effect before it returns.
type MemoryCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) bool
	Delete(key string)
	Close()
}

// MemoryCacheConfig defines configuration for the memory cache
type MemoryCacheConfig struct {
	Kind     string        // "ristretto" (cost bounded, default) or "lru" (entry bounded)
	MaxSize  int64         // Max memory in bytes, ristretto only
	MaxItems int64         // Max number of items (optional for ristretto)
	TTL      time.Duration // Time to live for entries, 0 = no expiry
}

// NewMemoryCache creates the cache implementation selected by cfg.Kind
func NewMemoryCache(cfg MemoryCacheConfig) (MemoryCache, error) {
	switch cfg.Kind {
	case "", KindRistretto:
		return NewRistrettoCache(cfg)
	case KindLRU:
		return NewLRUCache(cfg)
	default:
		return nil, fmt.Errorf("unknown memory cache kind %q", cfg.Kind)
	}
}

// RistrettoCache bounds the cache by the total size of the stored values
type RistrettoCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewRistrettoCache(cfg MemoryCacheConfig) (*RistrettoCache, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("MaxSize must be specified for memory cache")
	}

	if cfg.MaxItems == 0 {
		// Estimate: assume average item is ~4KB
		cfg.MaxItems = cfg.MaxSize / (4 * 1024)
		if cfg.MaxItems < 100 {
			cfg.MaxItems = 100
		}
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.MaxItems * 10, // Number of keys to track frequency (10x expected items)
		MaxCost:            cfg.MaxSize,       // Max memory usage in bytes
		BufferItems:        64,                // Number of keys per Get buffer
		IgnoreInternalCost: true,
		Metrics:            true,
		OnEvict: func(item *ristretto.Item) {
			memLog.Debugf("Evicted item (cost: %d bytes)", item.Cost)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	memLog.Infof("Initialized ristretto: MaxSize=%s, MaxItems=%d, TTL=%v",
		formatBytes(cfg.MaxSize), cfg.MaxItems, cfg.TTL)

	return &RistrettoCache{
		cache: cache,
		ttl:   cfg.TTL,
	}, nil
}

// Get retrieves a value from the cache
// Returns (data, found) where found indicates if the key was present
func (rc *RistrettoCache) Get(key string) ([]byte, bool) {
	value, found := rc.cache.Get(key)
	if !found {
		return nil, false
	}

	data, ok := value.([]byte)
	if !ok {
		memLog.Warnf("Invalid data type for key: %s", key)
		return nil, false
	}
	return data, true
}

// Set stores a value. Admission is asynchronous and may be rejected by the
// policy; false means the value was dropped.
func (rc *RistrettoCache) Set(key string, data []byte) bool {
	success := rc.cache.SetWithTTL(key, data, int64(len(data)), rc.ttl)
	if !success {
		memLog.Debugf("Failed to set key %s (buffer full or rejected)", key)
	}
	return success
}

// Delete removes key and waits until no queued Set can bring it back
func (rc *RistrettoCache) Delete(key string) {
	rc.cache.Del(key)
	rc.cache.Wait()
}

// Wait blocks until all pending writes are processed
func (rc *RistrettoCache) Wait() {
	rc.cache.Wait()
}

// Stats returns formatted cache statistics
func (rc *RistrettoCache) Stats() map[string]any {
	metrics := rc.cache.Metrics

	hits := metrics.Hits()
	misses := metrics.Misses()
	total := hits + misses

	var hitRatio float64
	if total > 0 {
		hitRatio = float64(hits) / float64(total)
	}

	return map[string]any{
		"hits":         hits,
		"misses":       misses,
		"hit_ratio":    hitRatio,
		"keys_added":   metrics.KeysAdded(),
		"keys_evicted": metrics.KeysEvicted(),
		"cost_added":   metrics.CostAdded(),
		"cost_evicted": metrics.CostEvicted(),
	}
}

func (rc *RistrettoCache) Close() {
	rc.cache.Wait()
	stats := rc.Stats()
	rc.cache.Close()
	memLog.Infof("Cache closed (hits=%v, misses=%v, hit_ratio=%.2f, keys_evicted=%v)",
		stats["hits"], stats["misses"], stats["hit_ratio"], stats["keys_evicted"])
}

// LRUCache bounds the cache by entry count. Sets are synchronous.
type LRUCache struct {
	lru *expirable.LRU[string, []byte]
}

func NewLRUCache(cfg MemoryCacheConfig) (*LRUCache, error) {
	if cfg.MaxItems <= 0 {
		return nil, fmt.Errorf("MaxItems must be specified for lru memory cache")
	}

	lru := expirable.NewLRU[string, []byte](int(cfg.MaxItems), func(key string, value []byte) {
		memLog.Debugf("Evicted item %s (%d bytes)", key, len(value))
	}, cfg.TTL)

	memLog.Infof("Initialized lru: MaxItems=%d, TTL=%v", cfg.MaxItems, cfg.TTL)
	return &LRUCache{lru: lru}, nil
}

func (lc *LRUCache) Get(key string) ([]byte, bool) {
	return lc.lru.Get(key)
}

func (lc *LRUCache) Set(key string, data []byte) bool {
	lc.lru.Add(key, data)
	return true
}

func (lc *LRUCache) Delete(key string) {
	lc.lru.Remove(key)
}

// Len returns the number of cached entries
func (lc *LRUCache) Len() int {
	return lc.lru.Len()
}

func (lc *LRUCache) Close() {
	entries := lc.Len()
	lc.lru.Purge()
	memLog.Infof("Cache closed (entries=%d)", entries)
}
