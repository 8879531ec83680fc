package drivers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLocalStorageContract(t *testing.T) {
	storagetest.RunContract(t, func(t *testing.T) storagetest.Store {
		return newTestLocalStorage(t)
	})
}

func TestNewLocalStorageCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")

	_, err := NewLocalStorage(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewLocalStorageRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := NewLocalStorage(file)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestLocalStorageLocation(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "user:42", []byte("v")))

	path := s.Location("user:42")
	assert.Equal(t, filepath.Join(s.basePath, "user42"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}

func TestLocalStorageCollidingKeysShareFile(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "a/b", []byte("first")))
	require.NoError(t, s.PutObject(ctx, "a_b", []byte("second")))

	got, err := s.GetObject(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestLocalStorageFallbackKeys(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	for _, key := range []string{"", ".", "..", "???"} {
		require.NoError(t, s.PutObject(ctx, key, []byte("value for "+key)), key)
	}
	for _, key := range []string{"", ".", "..", "???"} {
		got, err := s.GetObject(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, []byte("value for "+key), got, key)
	}

	// Nothing escaped the root
	entries, err := os.ReadDir(filepath.Dir(s.basePath))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStorageInterruptedWriteKeepsPreviousValue(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "config", []byte("original")))

	s.writeTemp = func(f *os.File, value []byte) error {
		if _, err := f.Write(value[:len(value)/2]); err != nil {
			return err
		}
		return errors.New("disk full")
	}

	err := s.PutObject(ctx, "config", []byte("replacement value"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "disk full")

	s.writeTemp = writeAndSync
	got, err := s.GetObject(ctx, "config")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	entries, err := os.ReadDir(s.basePath)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
	assert.Len(t, entries, 1)
}

func TestLocalStorageEmptyValueIsNotMissing(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "empty", nil))

	got, err := s.GetObject(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLocalStorageReadErrorIsUnavailable(t *testing.T) {
	s := newTestLocalStorage(t)

	// A directory where the value file should be cannot be read as a file
	require.NoError(t, os.Mkdir(s.Location("dir"), 0755))

	_, err := s.GetObject(context.Background(), "dir")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestLocalStorageCancelledContext(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.PutObject(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)

	_, err = s.GetObject(ctx, "k")
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
}
