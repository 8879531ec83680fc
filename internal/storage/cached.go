package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sashko-guz/kvstore/internal/cache"
	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/logger"
	"github.com/sashko-guz/kvstore/internal/metrics"
	"golang.org/x/sync/singleflight"
)

var cacheLog = logger.New("CachedStorage")

// CachedStorage wraps a Storage with optional read caches
// Layer 1: In-memory cache (fastest, optional)
// Layer 2: Disk-based cache (persistent, optional)
// Layer 3: Underlying storage (local, S3, MinIO)
//
// Every PutObject clears both layers and bumps a write epoch before it
// returns. Fills from reads that started under an older epoch are dropped,
// so a read that follows a write never sees the previous value.
type CachedStorage struct {
	underlying  Storage
	memoryCache cache.MemoryCache
	diskCache   *cache.DiskCache
	metrics     *metrics.Metrics

	group singleflight.Group

	// mu orders cache fills against invalidations
	mu    sync.Mutex
	epoch atomic.Uint64
}

func NewCachedStorage(underlying Storage, memory cache.MemoryCache, disk *cache.DiskCache) *CachedStorage {
	return &CachedStorage{
		underlying:  underlying,
		memoryCache: memory,
		diskCache:   disk,
	}
}

// GetObject retrieves an object through the multi-layer cache hierarchy
// 1. Check memory cache (fastest)
// 2. Check disk cache
// 3. Fetch from underlying storage and populate caches
func (cs *CachedStorage) GetObject(ctx context.Context, key string) ([]byte, error) {
	epoch := cs.epoch.Load()

	if cs.memoryCache != nil {
		data, found := cs.memoryCache.Get(key)
		cs.metrics.CacheLookup("memory", found)
		if found {
			cacheLog.Debugf("Memory cache HIT for key: %s", key)
			return bytes.Clone(data), nil
		}
	}

	if cs.diskCache != nil {
		data, err := cs.diskCache.Get(key)
		cs.metrics.CacheLookup("disk", err == nil)
		if err == nil {
			cacheLog.Debugf("Disk cache HIT for key: %s", key)
			if cs.memoryCache != nil {
				cs.fill(epoch, key, data, false)
			}
			return data, nil
		}
		if !errors.Is(err, cache.ErrCacheNotFound) {
			cacheLog.Warnf("Disk cache read failed for key %s: %v", key, err)
		}
	}

	// Concurrent misses for the same key share one backend read. The epoch
	// is part of the flight key so a read issued after a write never joins a
	// fetch that started before it.
	flight := strconv.FormatUint(epoch, 10) + ":" + key
	ch := cs.group.DoChan(flight, func() (any, error) {
		cacheLog.Debugf("Cache miss, fetching from underlying storage: %s", key)
		data, err := cs.underlying.GetObject(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		cs.fill(epoch, key, data, true)
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data := res.Val.([]byte)
		if res.Shared {
			// every waiter owns its copy
			data = bytes.Clone(data)
		}
		return data, nil
	case <-ctx.Done():
		return nil, errs.Unavailable("cache", "get", key, ctx.Err())
	}
}

// fill populates the caches unless a write happened since epoch was read
func (cs *CachedStorage) fill(epoch uint64, key string, data []byte, toDisk bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.epoch.Load() != epoch {
		cacheLog.Debugf("Skipping cache fill for key %s: written meanwhile", key)
		return
	}

	if toDisk && cs.diskCache != nil {
		if err := cs.diskCache.Set(key, data); err != nil {
			cacheLog.Warnf("Error writing to disk cache: %v", err)
		}
	}
	if cs.memoryCache != nil {
		cs.memoryCache.Set(key, bytes.Clone(data))
	}
}

// PutObject writes through to the underlying storage, then drops the cached
// copies of key
func (cs *CachedStorage) PutObject(ctx context.Context, key string, value []byte) error {
	if err := cs.underlying.PutObject(ctx, key, value); err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	// The epoch moves only after both layers are clean, so a reader that
	// observes the new epoch cannot find the old value in either layer
	defer cs.epoch.Add(1)
	if cs.memoryCache != nil {
		cs.memoryCache.Delete(key)
	}
	if cs.diskCache != nil {
		if err := cs.diskCache.Delete(key); err != nil {
			// A stale disk entry must not outlive the write; drop the whole layer
			cacheLog.Errorf("Failed to invalidate disk cache for key %s: %v", key, err)
			if err := cs.diskCache.Clear(); err != nil {
				cacheLog.Errorf("Failed to clear disk cache: %v", err)
			}
		}
	}
	return nil
}

// Close releases cache resources and closes the underlying storage when it
// holds any
func (cs *CachedStorage) Close() error {
	if cs.memoryCache != nil {
		cs.memoryCache.Close()
	}
	if cs.diskCache != nil {
		cs.diskCache.Close()
	}
	if closer, ok := cs.underlying.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
