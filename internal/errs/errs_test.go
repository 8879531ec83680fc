package errs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelOfItsKind(t *testing.T) {
	cause := fs.ErrNotExist

	notFound := NotFound("local", "get", "user:42", cause)
	assert.ErrorIs(t, notFound, ErrNotFound)
	assert.NotErrorIs(t, notFound, ErrStorageUnavailable)
	assert.ErrorIs(t, notFound, fs.ErrNotExist, "cause must stay reachable")

	unavailable := Unavailable("s3", "put", "user:42", errors.New("connection reset"))
	assert.ErrorIs(t, unavailable, ErrStorageUnavailable)
	assert.NotErrorIs(t, unavailable, ErrNotFound)

	config := Config("unknown storage backend %q", "postgres")
	assert.ErrorIs(t, config, ErrInvalidConfig)
	assert.NotErrorIs(t, config, ErrStorageUnavailable)
}

func TestErrorSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("minio", "get", "k", nil))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "classified not found", err: NotFound("local", "get", "k", nil), want: KindNotFound},
		{name: "classified unavailable", err: Unavailable("local", "put", "k", nil), want: KindUnavailable},
		{name: "config", err: Config("missing bucket"), want: KindConfig},
		{name: "bare sentinel", err: ErrNotFound, want: KindNotFound},
		{name: "deadline", err: context.DeadlineExceeded, want: KindUnavailable},
		{name: "cancelled", err: fmt.Errorf("op: %w", context.Canceled), want: KindUnavailable},
		{name: "unclassified", err: errors.New("boom"), want: KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Unavailable("local", "put", "a/b", errors.New("disk full"))
	require.Error(t, err)
	assert.Equal(t, `storage unavailable: local put "a/b": disk full`, err.Error())

	err = Config("bucket is required for %s driver", "s3")
	assert.Equal(t, "invalid storage configuration: bucket is required for s3 driver", err.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "unavailable", KindUnavailable.String())
	assert.Equal(t, "config", KindConfig.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
