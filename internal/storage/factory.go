package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashko-guz/kvstore/internal/cache"
	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/logger"
	"github.com/sashko-guz/kvstore/internal/storage/drivers"
)

var storageLog = logger.New("Storage")

const defaultCacheTTL = 5 * time.Minute

// NewStorage creates the backend named by cfg.Driver with all cache layers
// applied. Every failure is an errs.ErrInvalidConfig.
func NewStorage(ctx context.Context, cfg Config) (Storage, error) {
	// Step 1: Create base storage
	baseStorage, err := createBaseStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logParts := []string{fmt.Sprintf("driver: %s", cfg.Driver)}

	if !cfg.Cache.enabled() {
		storageLog.Infof("Initialized (%s)", strings.Join(logParts, ", "))
		return baseStorage, nil
	}

	// Step 2: Wrap with cache layers
	var cacheInfo []string
	if cfg.Cache.Memory.Enabled {
		kind := cfg.Cache.Memory.Kind
		if kind == "" {
			kind = cache.KindRistretto
		}
		cacheInfo = append(cacheInfo, fmt.Sprintf("memory: %s", kind))
	}
	if cfg.Cache.Disk.Enabled {
		cacheInfo = append(cacheInfo, "disk")
	}
	logParts = append(logParts, fmt.Sprintf("cache: %s", strings.Join(cacheInfo, ", ")))

	cachedStorage, err := wrapWithCache(baseStorage, cfg.Cache)
	if err != nil {
		return nil, err
	}
	cachedStorage.metrics = cfg.Metrics
	if dc := cachedStorage.diskCache; dc != nil {
		err := cfg.Metrics.RegisterCacheSize("disk", func() (int, int64) {
			count, size, err := dc.Stats()
			if err != nil {
				storageLog.Warnf("Failed to read disk cache stats: %v", err)
			}
			return count, size
		})
		if err != nil {
			storageLog.Warnf("Failed to register disk cache metrics: %v", err)
		}
	}

	storageLog.Infof("Initialized (%s)", strings.Join(logParts, ", "))
	return cachedStorage, nil
}

// createBaseStorage creates the underlying storage driver
func createBaseStorage(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case DriverLocal:
		if cfg.Local.Root == "" {
			return nil, errs.Config("root is required for local driver")
		}
		return drivers.NewLocalStorage(cfg.Local.Root)

	case DriverS3:
		opts := cfg.S3
		if opts.HTTP == nil {
			opts.HTTP = cfg.HTTP
		}
		return drivers.NewS3Client(ctx, opts)

	case DriverMinio:
		opts := cfg.Minio
		if opts.HTTP == nil {
			opts.HTTP = cfg.HTTP
		}
		return drivers.NewMinioClient(ctx, opts)

	default:
		return nil, errs.Config("unknown storage driver %q (expected %s, %s or %s)", cfg.Driver, DriverLocal, DriverS3, DriverMinio)
	}
}

// wrapWithCache builds the enabled cache layers around baseStorage
func wrapWithCache(baseStorage Storage, cfg *CacheConfig) (*CachedStorage, error) {
	ttl := defaultCacheTTL
	if cfg.TTLSeconds > 0 {
		ttl = time.Duration(cfg.TTLSeconds) * time.Second
	}

	var memoryCache cache.MemoryCache
	if cfg.Memory.Enabled {
		mc, err := cache.NewMemoryCache(cache.MemoryCacheConfig{
			Kind:     cfg.Memory.Kind,
			MaxSize:  int64(cfg.Memory.MaxSizeMB) * 1024 * 1024,
			MaxItems: int64(cfg.Memory.MaxItems),
			TTL:      ttl,
		})
		if err != nil {
			return nil, errs.Config("memory cache: %v", err)
		}
		memoryCache = mc
	}

	var diskCache *cache.DiskCache
	if cfg.Disk.Enabled {
		if cfg.Disk.Dir == "" {
			if memoryCache != nil {
				memoryCache.Close()
			}
			return nil, errs.Config("cache dir is required when disk cache is enabled")
		}
		dc, err := cache.NewDiskCache(cache.DiskCacheConfig{
			BasePath:       cfg.Disk.Dir,
			TTL:            ttl,
			MaxSizeBytes:   int64(cfg.Disk.MaxSizeMB) * 1024 * 1024,
			ClearOnStartup: cfg.Disk.ClearOnStartup,
		})
		if err != nil {
			if memoryCache != nil {
				memoryCache.Close()
			}
			return nil, errs.Config("disk cache: %v", err)
		}
		diskCache = dc
	}

	return NewCachedStorage(baseStorage, memoryCache, diskCache), nil
}
