package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is the backend surface exercised by RunContract
type Store interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, value []byte) error
}

// RunContract checks the behaviour every backend must share. newStore is
// called once per subtest and must return an empty store.
func RunContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("WriteThenRead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		values := map[string][]byte{
			"plain":  []byte("hello"),
			"empty":  {},
			"binary": {0x00, 0xff, 0x10, 0x00, 0x7f, 0x80},
			"large":  make([]byte, 256*1024),
		}
		for i := range values["large"] {
			values["large"][i] = byte(i % 251)
		}

		for key, value := range values {
			require.NoError(t, s.PutObject(ctx, key, value), key)
		}
		for key, value := range values {
			got, err := s.GetObject(ctx, key)
			require.NoError(t, err, key)
			require.NotNil(t, got, key)
			assert.Equal(t, value, got, key)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutObject(ctx, "k", []byte("first value, longer")))
		require.NoError(t, s.PutObject(ctx, "k", []byte("second")))

		got, err := s.GetObject(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetObject(context.Background(), "never-written")
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrNotFound)
		assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	})

	t.Run("ColonKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		value := []byte(`{"name":"Ada"}`)
		require.NoError(t, s.PutObject(ctx, "user:42", value))

		got, err := s.GetObject(ctx, "user:42")
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("OverwriteWithEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutObject(ctx, "user:42", []byte{0x68, 0x69}))
		got, err := s.GetObject(ctx, "user:42")
		require.NoError(t, err)
		assert.Equal(t, []byte("hi"), got)

		require.NoError(t, s.PutObject(ctx, "user:42", []byte{}))
		got, err = s.GetObject(ctx, "user:42")
		require.NoError(t, err, "an empty value is still a value")
		require.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const writers = 8
		candidates := make(map[string]bool, writers)
		for i := 0; i < writers; i++ {
			candidates[fmt.Sprintf("writer-%d", i)] = true
		}

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.PutObject(ctx, "shared", []byte(fmt.Sprintf("writer-%d", i))))
			}(i)
		}
		wg.Wait()

		got, err := s.GetObject(ctx, "shared")
		require.NoError(t, err)
		assert.True(t, candidates[string(got)], "value %q is not one of the written values", got)
	})
}
