// Package kv is the read/write core of the service. It forwards to the
// configured storage backend and guarantees that every failure leaving it is
// classified as errs.ErrNotFound or errs.ErrStorageUnavailable.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/logger"
	"github.com/sashko-guz/kvstore/internal/metrics"
	"github.com/sashko-guz/kvstore/internal/storage"
)

var log = logger.New("KV")

type Options struct {
	// Backend labels logs and metrics, e.g. "local"
	Backend string
	// Timeout bounds each storage call; 0 means no bound
	Timeout time.Duration
	Metrics *metrics.Metrics
}

type Service struct {
	store   storage.Storage
	backend string
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewService(store storage.Storage, opts Options) *Service {
	backend := opts.Backend
	if backend == "" {
		backend = "storage"
	}
	return &Service{
		store:   store,
		backend: backend,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
	}
}

// Read returns the value stored under key
func (s *Service) Read(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	value, err := s.store.GetObject(ctx, key)
	if err != nil {
		err = s.classify("get", key, err, true)
		s.record("get", err, time.Since(start))
		if errs.IsNotFound(err) {
			log.Debugf("read key=%q: not found", key)
		} else {
			log.Errorf("read key=%q failed: %v", key, err)
		}
		return nil, err
	}

	s.record("get", nil, time.Since(start))
	s.metrics.ObserveValueSize("get", len(value))
	log.Debugf("read key=%q size=%d", key, len(value))
	return value, nil
}

// Write stores value under key and returns the number of bytes written
func (s *Service) Write(ctx context.Context, key string, value []byte) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if err := s.store.PutObject(ctx, key, value); err != nil {
		err = s.classify("put", key, err, false)
		s.record("put", err, time.Since(start))
		log.Errorf("write key=%q size=%d failed: %v", key, len(value), err)
		return 0, err
	}

	s.record("put", nil, time.Since(start))
	s.metrics.ObserveValueSize("put", len(value))
	log.Debugf("write key=%q size=%d", key, len(value))
	return len(value), nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// classify makes sure err matches exactly one of the sentinels a caller can
// expect. A not-found from a write means the medium misbehaved.
func (s *Service) classify(op, key string, err error, notFoundAllowed bool) error {
	kind := errs.KindOf(err)
	if kind == errs.KindNotFound && notFoundAllowed {
		return err
	}
	if kind == errs.KindUnavailable {
		if errors.Is(err, errs.ErrStorageUnavailable) {
			return err
		}
		return errs.Unavailable(s.backend, op, key, err)
	}
	// Flatten so errors.Is no longer reaches the original sentinel
	return errs.Unavailable(s.backend, op, key, errors.New(err.Error()))
}

func (s *Service) record(op string, err error, d time.Duration) {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errs.IsNotFound(err):
		outcome = metrics.OutcomeNotFound
	default:
		outcome = metrics.OutcomeUnavailable
	}
	s.metrics.ObserveStorageOp(s.backend, op, outcome, d)
}
