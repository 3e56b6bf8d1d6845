package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/safe/internal/events"
)

// RetryStore retries blob operations that fail with a transient error,
// backing off exponentially between attempts. Not-found results and
// context errors are returned immediately.
type RetryStore struct {
	inner      BlobStore
	maxRetries int
	retryDelay time.Duration
	logger     *events.Logger
}

// NewRetryStore wraps inner. maxRetries is the number of attempts after the
// first one.
func NewRetryStore(inner BlobStore, maxRetries int, retryDelay time.Duration, logger *events.Logger) *RetryStore {
	return &RetryStore{
		inner:      inner,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "retry_store"),
	}
}

// Unwrap returns the wrapped store.
func (s *RetryStore) Unwrap() BlobStore {
	return s.inner
}

// Put stores a blob.
func (s *RetryStore) Put(ctx context.Context, key string, data []byte) error {
	return s.retry(ctx, "put", func() error {
		return s.inner.Put(ctx, key, data)
	})
}

// Get reads a blob.
func (s *RetryStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.retry(ctx, "get", func() error {
		var err error
		data, err = s.inner.Get(ctx, key)
		return err
	})
	return data, err
}

// List returns keys with the given prefix.
func (s *RetryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.retry(ctx, "list", func() error {
		var err error
		keys, err = s.inner.List(ctx, prefix)
		return err
	})
	return keys, err
}

// Delete removes a blob.
func (s *RetryStore) Delete(ctx context.Context, key string) error {
	return s.retry(ctx, "delete", func() error {
		return s.inner.Delete(ctx, key)
	})
}

// Close closes the wrapped store.
func (s *RetryStore) Close() error {
	return s.inner.Close()
}

func (s *RetryStore) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := s.retryDelay

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.WithFields(map[string]interface{}{
				"op":      op,
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying blob operation")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
	}

	return fmt.Errorf("%s: max retries exceeded: %w", op, lastErr)
}

// IsTransient reports whether err is worth retrying: the database was busy
// or locked by another process.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
