package storage

import (
	"context"
)

// Storage is the contract every backend fulfils. GetObject returns the exact
// bytes last written for key, errs.ErrNotFound if none were, or
// errs.ErrStorageUnavailable. PutObject replaces the value atomically and
// returns once a later GetObject in this process observes it.
type Storage interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, value []byte) error
}
