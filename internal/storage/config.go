package storage

import (
	"github.com/sashko-guz/kvstore/internal/metrics"
	"github.com/sashko-guz/kvstore/internal/storage/drivers"
)

type Driver string

const (
	DriverLocal Driver = "local"
	DriverS3    Driver = "s3"
	DriverMinio Driver = "minio"
)

// Config selects and configures exactly one backend. Only the section that
// matches Driver is read.
type Config struct {
	Driver Driver

	Local LocalConfig
	S3    drivers.S3Options
	Minio drivers.MinioOptions

	// HTTP tunes the object-store transport; applied when the driver
	// options carry none of their own
	HTTP *drivers.HTTPConfig

	// Cache enables read caching in front of the backend (optional)
	Cache *CacheConfig

	// Metrics receives cache hit/miss counts; nil disables them
	Metrics *metrics.Metrics
}

type LocalConfig struct {
	Root string
}

// MemoryCacheOptions configures the in-memory layer
type MemoryCacheOptions struct {
	Enabled   bool
	Kind      string // "ristretto" or "lru"
	MaxSizeMB int
	MaxItems  int
}

// DiskCacheOptions configures the on-disk layer
type DiskCacheOptions struct {
	Enabled        bool
	Dir            string
	MaxSizeMB      int // 0 = unlimited
	ClearOnStartup bool
}

type CacheConfig struct {
	Memory     MemoryCacheOptions
	Disk       DiskCacheOptions
	TTLSeconds int
}

func (c *CacheConfig) enabled() bool {
	return c != nil && (c.Memory.Enabled || c.Disk.Enabled)
}
