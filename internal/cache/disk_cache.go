package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sashko-guz/kvstore/internal/logger"
	"lukechampine.com/blake3"
)

// ErrCacheNotFound is returned by DiskCache.Get for missing or expired entries
var ErrCacheNotFound = errors.New("cache entry not found")

var diskLog = logger.New("DiskCache")

const (
	defaultCleanupInterval = 30 * time.Second
	cleanupBackoffStep     = 10 * time.Second
	maxCleanupInterval     = 10 * time.Minute
	cacheFileExt           = ".cache"
)

// formatBytes converts bytes to human-readable format
func formatBytes(bytes int64) string {
	if bytes == 0 {
		return "0"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	unitIndex := 0
	for size >= 1024 && unitIndex < len(units)-1 {
		size /= 1024
		unitIndex++
	}
	return fmt.Sprintf("%.2f%s", size, units[unitIndex])
}

// DiskCacheConfig defines configuration for the disk cache
type DiskCacheConfig struct {
	BasePath       string
	TTL            time.Duration
	MaxSizeBytes   int64 // 0 = unlimited
	ClearOnStartup bool
	// CleanupInterval is the base period of the background sweep, default 30s
	CleanupInterval time.Duration
}

// DiskCache stores one file per key under a two-level BLAKE3 directory
// layout. The expiry time is part of the file name, so sweeps never open files.
type DiskCache struct {
	basePath string
	maxSize  int64
	ttl      time.Duration
	mu       sync.RWMutex

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type cleanupStats struct {
	totalFiles   int
	totalSize    int64
	keptCount    int
	keptSize     int64
	deletedCount int
	deletedSize  int64
	errorCount   int
}

type cacheFile struct {
	path      string
	size      int64
	expiresAt time.Time
}

// NewDiskCache creates the cache directory, runs one cleanup (or a full clear
// when ClearOnStartup is set) and starts the background sweep.
func NewDiskCache(cfg DiskCacheConfig) (*DiskCache, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("disk cache base path is required")
	}

	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	dc := &DiskCache{
		basePath: absPath,
		maxSize:  cfg.MaxSizeBytes,
		ttl:      cfg.TTL,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.ClearOnStartup {
		diskLog.Infof("Clearing all cache files in %s (clearOnStartup=true)", absPath)
		if err := dc.Clear(); err != nil {
			diskLog.Errorf("Error during startup cache clear: %v", err)
		}
	} else {
		dc.performCleanup()
	}

	go dc.cleanupLoop(interval)

	diskLog.Infof("Initialized: BasePath=%s, TTL=%v, MaxSize=%v, CleanupInterval=%v (adaptive backoff)",
		absPath, cfg.TTL, formatBytes(cfg.MaxSizeBytes), interval)
	return dc, nil
}

// Get returns the cached value for key
func (dc *DiskCache) Get(key string) ([]byte, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	hash := dc.getHash(key)
	filePath, expiresAt, err := dc.findCacheFile(dc.getDirPath(hash), hash)
	if err != nil {
		return nil, ErrCacheNotFound
	}

	if time.Now().After(expiresAt) {
		diskLog.Debugf("Cache entry expired for key: %s (expired at %v)", key, expiresAt.Format(time.RFC3339))
		return nil, ErrCacheNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	diskLog.Debugf("Cache HIT for key: %s (expires at %v)", key, expiresAt.Format(time.RFC3339))
	return data, nil
}

// Set stores data for key, replacing any earlier entry for the same key
func (dc *DiskCache) Set(key string, data []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	expiresAt := time.Now().Add(dc.ttl)
	hash := dc.getHash(key)
	dir := dc.getDirPath(hash)
	filePath := dc.getFilePathWithExpiration(hash, expiresAt)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory structure: %w", err)
	}

	tmp, err := os.CreateTemp(dir, hash+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	// Entries with an older expiry would otherwise shadow the new one
	if err := dc.removeEntries(dir, hash); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	diskLog.Debugf("Cached data for key: %s (expires at %v, TTL: %v)", key, expiresAt.Format(time.RFC3339), dc.ttl)
	return nil
}

// Delete removes every entry for key
func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	hash := dc.getHash(key)
	return dc.removeEntries(dc.getDirPath(hash), hash)
}

// removeEntries deletes all files for hash in dir. Callers hold mu.
func (dc *DiskCache) removeEntries(dir, hashStr string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	prefix := hashStr + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, cacheFileExt) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete cache file: %w", err)
		}
	}
	return nil
}

// Clear removes all cache entries
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if err := os.RemoveAll(dc.basePath); err != nil {
		return fmt.Errorf("failed to remove cache directory: %w", err)
	}

	if err := os.MkdirAll(dc.basePath, 0755); err != nil {
		return fmt.Errorf("failed to recreate cache directory: %w", err)
	}

	diskLog.Infof("Cache cleared")
	return nil
}

// Close stops the background sweep. Cached files stay on disk.
func (dc *DiskCache) Close() error {
	dc.closeOnce.Do(func() {
		close(dc.stop)
		<-dc.done
	})
	return nil
}

// cleanupLoop periodically removes expired cache entries, backing off while
// there is nothing to delete
func (dc *DiskCache) cleanupLoop(baseInterval time.Duration) {
	defer close(dc.done)

	interval := baseInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-dc.stop:
			return
		case <-timer.C:
		}

		stats := dc.performCleanup()

		if stats.deletedCount == 0 {
			interval += cleanupBackoffStep
			if interval > maxCleanupInterval {
				interval = maxCleanupInterval
			}
		} else {
			interval = baseInterval
		}

		timer.Reset(interval)
		diskLog.Debugf("%s - Next cleanup in %v (deleted: %d/%d, kept: %d)",
			dc.basePath, interval, stats.deletedCount, stats.totalFiles, stats.keptCount)
	}
}

func (dc *DiskCache) performCleanup() cleanupStats {
	now := time.Now()
	stats := cleanupStats{}
	var validFiles []cacheFile

	// First pass: delete expired files and collect valid files with their sizes
	err := filepath.Walk(dc.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Files can vanish under a concurrent Set or Delete
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if info.IsDir() || filepath.Ext(path) != cacheFileExt {
			return nil
		}

		stats.totalFiles++
		fileSize := info.Size()
		stats.totalSize += fileSize

		expiresAt, err := dc.parseExpirationFromFilename(filepath.Base(path))
		if err != nil || now.After(expiresAt) {
			dc.mu.Lock()
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				diskLog.Errorf("Error deleting cache file %s: %v", path, err)
				stats.errorCount++
			} else {
				stats.deletedCount++
				stats.deletedSize += fileSize
			}
			dc.cleanupEmptyDirs(filepath.Dir(path))
			dc.mu.Unlock()
			return nil
		}

		stats.keptCount++
		stats.keptSize += fileSize
		validFiles = append(validFiles, cacheFile{
			path:      path,
			size:      fileSize,
			expiresAt: expiresAt,
		})
		return nil
	})
	if err != nil {
		diskLog.Errorf("Error during cleanup walk: %v", err)
	}

	// Second pass: if maxSize is set and exceeded, delete the entries closest to expiry
	if dc.maxSize > 0 && stats.keptSize > dc.maxSize {
		diskLog.Infof("Cache size exceeded: %v > %v, evicting oldest files",
			formatBytes(stats.keptSize), formatBytes(dc.maxSize))

		sort.Slice(validFiles, func(i, j int) bool {
			return validFiles[i].expiresAt.Before(validFiles[j].expiresAt)
		})

		for _, file := range validFiles {
			if stats.keptSize <= dc.maxSize {
				break
			}

			dc.mu.Lock()
			err := os.Remove(file.path)
			dc.cleanupEmptyDirs(filepath.Dir(file.path))
			dc.mu.Unlock()
			if err != nil && !os.IsNotExist(err) {
				diskLog.Errorf("Error deleting file during size-based eviction %s: %v", file.path, err)
				stats.errorCount++
				continue
			}

			stats.deletedCount++
			stats.deletedSize += file.size
			stats.keptCount--
			stats.keptSize -= file.size
		}
	}

	diskLog.Debugf("Cleanup complete: scanned %d files (%v), kept %d (%v), deleted %d (%v), errors %d",
		stats.totalFiles, formatBytes(stats.totalSize), stats.keptCount, formatBytes(stats.keptSize),
		stats.deletedCount, formatBytes(stats.deletedSize), stats.errorCount)
	return stats
}

// getHash generates BLAKE3 hash from key
func (dc *DiskCache) getHash(key string) string {
	hash := blake3.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// getDirPath uses nginx-style levels=2:2 to limit files per directory
func (dc *DiskCache) getDirPath(hashStr string) string {
	n := len(hashStr)
	level1 := hashStr[n-2 : n]
	level2 := hashStr[n-4 : n-2]
	return filepath.Join(dc.basePath, level1, level2)
}

// getFilePathWithExpiration returns basePath/f1/8e/{hash}_{unixTimestamp}.cache
func (dc *DiskCache) getFilePathWithExpiration(hashStr string, expiresAt time.Time) string {
	fileName := fmt.Sprintf("%s_%d%s", hashStr, expiresAt.Unix(), cacheFileExt)
	return filepath.Join(dc.getDirPath(hashStr), fileName)
}

// findCacheFile finds the cache file for hash in dir
func (dc *DiskCache) findCacheFile(dir, hashStr string) (string, time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, err
	}

	prefix := hashStr + "_"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, cacheFileExt) {
			expiresAt, err := dc.parseExpirationFromFilename(name)
			if err != nil {
				continue
			}
			return filepath.Join(dir, name), expiresAt, nil
		}
	}
	return "", time.Time{}, ErrCacheNotFound
}

// parseExpirationFromFilename extracts the timestamp from {hash}_{unixTimestamp}.cache
func (dc *DiskCache) parseExpirationFromFilename(filename string) (time.Time, error) {
	name := strings.TrimSuffix(filename, cacheFileExt)

	lastUnderscore := strings.LastIndex(name, "_")
	if lastUnderscore == -1 {
		return time.Time{}, fmt.Errorf("invalid filename format: %s", filename)
	}

	timestamp, err := strconv.ParseInt(name[lastUnderscore+1:], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp in filename: %w", err)
	}

	return time.Unix(timestamp, 0), nil
}

// Stats returns the number and total size of cached files
func (dc *DiskCache) Stats() (count int, totalSize int64, err error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	err = filepath.Walk(dc.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && filepath.Ext(path) == cacheFileExt {
			count++
			totalSize += info.Size()
		}

		return nil
	})

	return count, totalSize, err
}

// cleanupEmptyDirs removes empty directories up to the base path. Callers hold mu.
func (dc *DiskCache) cleanupEmptyDirs(dir string) {
	if dir == dc.basePath || !strings.HasPrefix(dir, dc.basePath) {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}

	if err := os.Remove(dir); err == nil {
		dc.cleanupEmptyDirs(filepath.Dir(dir))
	}
}
