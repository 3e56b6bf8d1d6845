package storage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/safe/internal/storage"
	"github.com/TheMichaelB/safe/test/testutil"
)

var errBusy = sqlite3.Error{Code: sqlite3.ErrBusy}

func TestRetryStoreRetriesBusyDatabase(t *testing.T) {
	inner := &testutil.MockBlobStore{}
	inner.On("Put", mock.Anything, "k", []byte("v")).Return(errBusy).Twice()
	inner.On("Put", mock.Anything, "k", []byte("v")).Return(nil).Once()

	store := storage.NewRetryStore(inner, 3, 10*time.Millisecond, testLogger())

	start := time.Now()
	require.NoError(t, store.Put(context.Background(), "k", []byte("v")))

	// Delays: 10ms, 20ms
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	inner.AssertNumberOfCalls(t, "Put", 3)
}

func TestRetryStoreMaxRetriesExceeded(t *testing.T) {
	inner := &testutil.MockBlobStore{}
	inner.On("Get", mock.Anything, "k").Return(nil, fmt.Errorf("query: %w", errBusy))

	store := storage.NewRetryStore(inner, 2, time.Millisecond, testLogger())

	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.True(t, storage.IsTransient(err))
	inner.AssertNumberOfCalls(t, "Get", 3)
}

func TestRetryStoreDoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", fmt.Errorf("%w: k", storage.ErrNotFound)},
		{"other", errors.New("access denied")},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &testutil.MockBlobStore{}
			inner.On("Delete", mock.Anything, "k").Return(tt.err)

			store := storage.NewRetryStore(inner, 3, time.Millisecond, testLogger())

			err := store.Delete(context.Background(), "k")
			assert.ErrorIs(t, err, tt.err)
			inner.AssertNumberOfCalls(t, "Delete", 1)
		})
	}
}

func TestRetryStoreStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	inner := &testutil.MockBlobStore{}
	inner.On("List", mock.Anything, "p").Return(nil, errBusy)

	store := storage.NewRetryStore(inner, 10, 40*time.Millisecond, testLogger())

	_, err := store.List(ctx, "p")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.LessOrEqual(t, len(inner.Calls), 2)
}

func TestRetryStoreSuccessOnFirstAttempt(t *testing.T) {
	inner := &testutil.MockBlobStore{}
	inner.On("List", mock.Anything, "p").Return([]string{"p/a"}, nil).Once()
	inner.On("Close").Return(nil)

	store := storage.NewRetryStore(inner, 3, time.Second, testLogger())

	keys, err := store.List(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/a"}, keys)

	require.NoError(t, store.Close())
	assert.Same(t, inner, store.Unwrap())
	inner.AssertExpectations(t)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, storage.IsTransient(nil))
	assert.False(t, storage.IsTransient(context.Canceled))
	assert.False(t, storage.IsTransient(storage.ErrNotFound))
	assert.True(t, storage.IsTransient(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.True(t, storage.IsTransient(fmt.Errorf("exec: %w", errBusy)))
}
