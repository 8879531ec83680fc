package drivers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/logger"
)

const localBackend = "local"

var localLog = logger.New("LocalStorage")

// LocalStorage keeps one file per key directly under basePath. Writes go to a
// temp file in the same directory and are renamed into place, so readers
// (in this or any other process) see either the old or the new value.
type LocalStorage struct {
	basePath string

	// writeTemp fills the temp file; replaced in tests to simulate a failed write
	writeTemp func(f *os.File, value []byte) error
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	localLog.Infof("Initializing local storage with base path: %s", basePath)

	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, errs.Config("failed to resolve base path %q: %v", basePath, err)
	}

	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, errs.Config("failed to create storage directory %q: %v", absBasePath, err)
	}

	info, err := os.Stat(absBasePath)
	if err != nil {
		return nil, errs.Config("failed to access storage directory %q: %v", absBasePath, err)
	}
	if !info.IsDir() {
		return nil, errs.Config("storage path %q is not a directory", absBasePath)
	}

	return &LocalStorage{
		basePath:  absBasePath,
		writeTemp: writeAndSync,
	}, nil
}

// Location returns the file path used for key
func (l *LocalStorage) Location(key string) string {
	return filepath.Join(l.basePath, SanitizeKey(key))
}

func (l *LocalStorage) GetObject(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Unavailable(localBackend, "get", key, err)
	}

	path := l.Location(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			localLog.Debugf("file not found: %s (key=%q)", path, key)
			return nil, errs.NotFound(localBackend, "get", key, err)
		}
		localLog.Errorf("failed to read file %s: %v", path, err)
		return nil, errs.Unavailable(localBackend, "get", key, err)
	}

	// os.ReadFile returns a non-nil slice even for empty files, so an empty
	// value is distinguishable from a missing key.
	localLog.Debugf("read %d bytes from %s", len(data), path)
	return data, nil
}

func (l *LocalStorage) PutObject(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return errs.Unavailable(localBackend, "put", key, err)
	}

	path := l.Location(key)
	if err := l.replaceFile(path, value); err != nil {
		localLog.Errorf("failed to write file %s: %v", path, err)
		return errs.Unavailable(localBackend, "put", key, err)
	}

	localLog.Debugf("wrote %d bytes to %s", len(value), path)
	return nil
}

// replaceFile atomically replaces path with value. The temp file lives in
// the same directory so the rename never crosses a filesystem boundary.
func (l *LocalStorage) replaceFile(path string, value []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := l.writeTemp(tmp, value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename to %s: %w", path, err)
	}

	syncDir(dir)
	return nil
}

func writeAndSync(f *os.File, value []byte) error {
	if _, err := f.Write(value); err != nil {
		return err
	}
	return f.Sync()
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	if err := d.Sync(); err != nil {
		localLog.Debugf("directory sync skipped for %s: %v", dir, err)
	}
	d.Close()
}
