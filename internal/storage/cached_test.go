package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashko-guz/kvstore/internal/cache"
	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStorage is an in-memory backend that counts reads and can hold them
type mapStorage struct {
	mu     sync.Mutex
	values map[string][]byte
	gets   atomic.Int64
	closed atomic.Bool

	// when set, GetObject signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func newMapStorage() *mapStorage {
	return &mapStorage{values: make(map[string][]byte)}
}

func (m *mapStorage) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.gets.Add(1)
	m.mu.Lock()
	v, ok := m.values[key]
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
		<-m.release
	}

	if !ok {
		return nil, errs.NotFound("map", "get", key, nil)
	}
	return append([]byte{}, v...), nil
}

func (m *mapStorage) PutObject(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte{}, value...)
	return nil
}

func (m *mapStorage) Close() error {
	m.closed.Store(true)
	return nil
}

func newTestCachedStorage(t *testing.T, underlying Storage, kind string) *CachedStorage {
	t.Helper()
	memory, err := cache.NewMemoryCache(cache.MemoryCacheConfig{
		Kind:     kind,
		MaxSize:  1 << 20,
		MaxItems: 128,
		TTL:      time.Minute,
	})
	require.NoError(t, err)

	disk, err := cache.NewDiskCache(cache.DiskCacheConfig{BasePath: t.TempDir(), TTL: time.Minute})
	require.NoError(t, err)

	cs := NewCachedStorage(underlying, memory, disk)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestCachedStorageContract(t *testing.T) {
	for _, kind := range []string{cache.KindRistretto, cache.KindLRU} {
		t.Run(kind, func(t *testing.T) {
			storagetest.RunContract(t, func(t *testing.T) storagetest.Store {
				return newTestCachedStorage(t, newMapStorage(), kind)
			})
		})
	}
}

func TestCachedStorageServesRepeatReadsFromCache(t *testing.T) {
	backend := newMapStorage()
	cs := newTestCachedStorage(t, backend, cache.KindLRU)
	ctx := context.Background()

	require.NoError(t, cs.PutObject(ctx, "k", []byte("v")))

	for i := 0; i < 5; i++ {
		got, err := cs.GetObject(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	}
	assert.EqualValues(t, 1, backend.gets.Load())
}

func TestCachedStorageReadAfterWrite(t *testing.T) {
	for _, kind := range []string{cache.KindRistretto, cache.KindLRU} {
		t.Run(kind, func(t *testing.T) {
			cs := newTestCachedStorage(t, newMapStorage(), kind)
			ctx := context.Background()

			for i := 0; i < 50; i++ {
				value := []byte{byte(i)}
				require.NoError(t, cs.PutObject(ctx, "counter", value))

				got, err := cs.GetObject(ctx, "counter")
				require.NoError(t, err)
				require.Equal(t, value, got, "iteration %d", i)
			}
		})
	}
}

func TestCachedStorageDropsFillStartedBeforeWrite(t *testing.T) {
	backend := newMapStorage()
	cs := newTestCachedStorage(t, backend, cache.KindLRU)
	ctx := context.Background()

	require.NoError(t, backend.PutObject(ctx, "k", []byte("old")))

	backend.started = make(chan struct{})
	backend.release = make(chan struct{})

	done := make(chan []byte)
	go func() {
		got, err := cs.GetObject(ctx, "k")
		assert.NoError(t, err)
		done <- got
	}()

	// The read has fetched "old" and is parked before filling the caches
	<-backend.started
	require.NoError(t, cs.PutObject(ctx, "k", []byte("new")))
	close(backend.release)
	assert.Equal(t, []byte("old"), <-done)

	backend.started = nil
	got, err := cs.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestCachedStorageCollapsesConcurrentMisses(t *testing.T) {
	backend := newMapStorage()
	cs := newTestCachedStorage(t, backend, cache.KindLRU)
	ctx := context.Background()
	require.NoError(t, backend.PutObject(ctx, "hot", []byte("v")))

	backend.started = make(chan struct{}, 1)
	backend.release = make(chan struct{})

	const readers = 10
	var wg sync.WaitGroup
	var joined atomic.Int64
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			joined.Add(1)
			got, err := cs.GetObject(ctx, "hot")
			assert.NoError(t, err)
			assert.Equal(t, []byte("v"), got)
		}()
	}

	<-backend.started
	// let the other readers reach the flight before releasing it
	require.Eventually(t, func() bool { return joined.Load() == readers }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	assert.EqualValues(t, 1, backend.gets.Load())
}

func TestCachedStorageDoesNotCacheErrors(t *testing.T) {
	backend := newMapStorage()
	cs := newTestCachedStorage(t, backend, cache.KindLRU)
	ctx := context.Background()

	_, err := cs.GetObject(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, cs.PutObject(ctx, "missing", []byte("now present")))
	got, err := cs.GetObject(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, []byte("now present"), got)
}

func TestCachedStorageDiskLayerSurvivesMemoryLoss(t *testing.T) {
	backend := newMapStorage()
	cs := newTestCachedStorage(t, backend, cache.KindLRU)
	ctx := context.Background()

	require.NoError(t, cs.PutObject(ctx, "k", []byte("v")))
	_, err := cs.GetObject(ctx, "k")
	require.NoError(t, err)

	cs.memoryCache.Delete("k")
	got, err := cs.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.EqualValues(t, 1, backend.gets.Load())
}

func TestCachedStorageCancelledWaiter(t *testing.T) {
	backend := newMapStorage()
	cs := newTestCachedStorage(t, backend, cache.KindLRU)
	require.NoError(t, backend.PutObject(context.Background(), "k", []byte("v")))

	backend.started = make(chan struct{}, 1)
	backend.release = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cs.GetObject(ctx, "k")
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)

	// The abandoned fetch still completes for other readers
	<-backend.started
	close(backend.release)
	got, err := cs.GetObject(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestCachedStorageCloseClosesUnderlying(t *testing.T) {
	backend := newMapStorage()
	cs := newTestCachedStorage(t, backend, cache.KindLRU)

	require.NoError(t, cs.Close())
	assert.True(t, backend.closed.Load())
}

func TestCachedStorageReturnsPrivateCopies(t *testing.T) {
	for _, kind := range []string{cache.KindRistretto, cache.KindLRU} {
		t.Run(kind, func(t *testing.T) {
			cs := newTestCachedStorage(t, newMapStorage(), kind)
			ctx := context.Background()
			require.NoError(t, cs.PutObject(ctx, "k", []byte("hi")))

			// miss, then hits from each layer
			for i := 0; i < 3; i++ {
				got, err := cs.GetObject(ctx, "k")
				require.NoError(t, err)
				require.Equal(t, []byte("hi"), got, "read %d", i)
				got[0] = 'X'
				if i == 1 {
					cs.memoryCache.Delete("k")
				}
			}
		})
	}
}

func TestCachedStorageSharedFetchCopies(t *testing.T) {
	backend := newMapStorage()
	cs := newTestCachedStorage(t, backend, cache.KindLRU)
	ctx := context.Background()
	require.NoError(t, backend.PutObject(ctx, "hot", []byte("hi")))

	backend.started = make(chan struct{}, 1)
	backend.release = make(chan struct{})

	results := make(chan []byte, 2)
	for i := 0; i < 2; i++ {
		go func() {
			got, err := cs.GetObject(ctx, "hot")
			assert.NoError(t, err)
			results <- got
		}()
	}

	<-backend.started
	time.Sleep(20 * time.Millisecond)
	close(backend.release)

	first, second := <-results, <-results
	first[0] = 'X'
	assert.Equal(t, []byte("hi"), second)

	got, err := cs.GetObject(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)
}
