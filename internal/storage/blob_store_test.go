package storage_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
	"github.com/TheMichaelB/safe/internal/storage"
)

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func backends(t *testing.T) map[string]func(t *testing.T) storage.BlobStore {
	return map[string]func(t *testing.T) storage.BlobStore{
		"memory": func(t *testing.T) storage.BlobStore {
			return storage.NewMemoryStore()
		},
		"local": func(t *testing.T) storage.BlobStore {
			store, err := storage.NewLocalStore(t.TempDir(), testLogger())
			require.NoError(t, err)
			return store
		},
		"sqlite": func(t *testing.T) storage.BlobStore {
			store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "blobs.db"), testLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func TestBlobStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("put and get", func(t *testing.T) {
				store := open(t)

				require.NoError(t, store.Put(ctx, "alice/notes", []byte("ciphertext")))

				data, err := store.Get(ctx, "alice/notes")
				require.NoError(t, err)
				assert.Equal(t, []byte("ciphertext"), data)
			})

			t.Run("put overwrites", func(t *testing.T) {
				store := open(t)

				require.NoError(t, store.Put(ctx, "alice/notes", []byte("v1")))
				require.NoError(t, store.Put(ctx, "alice/notes", []byte("v2")))

				data, err := store.Get(ctx, "alice/notes")
				require.NoError(t, err)
				assert.Equal(t, []byte("v2"), data)

				keys, err := store.List(ctx, "")
				require.NoError(t, err)
				assert.Len(t, keys, 1)
			})

			t.Run("get missing", func(t *testing.T) {
				store := open(t)

				_, err := store.Get(ctx, "alice/missing")
				assert.ErrorIs(t, err, storage.ErrNotFound)
				assert.ErrorIs(t, err, models.ErrNotFound)
			})

			t.Run("delete", func(t *testing.T) {
				store := open(t)

				require.NoError(t, store.Put(ctx, "alice/notes", []byte("x")))
				require.NoError(t, store.Delete(ctx, "alice/notes"))

				_, err := store.Get(ctx, "alice/notes")
				assert.ErrorIs(t, err, storage.ErrNotFound)

				err = store.Delete(ctx, "alice/notes")
				assert.ErrorIs(t, err, storage.ErrNotFound)
			})

			t.Run("list by prefix", func(t *testing.T) {
				store := open(t)

				for _, key := range []string{"alice/a", "alice/b/c", "alicia/x", "bob/a"} {
					require.NoError(t, store.Put(ctx, key, []byte(key)))
				}

				keys, err := store.List(ctx, "alice/")
				require.NoError(t, err)
				sort.Strings(keys)
				assert.Equal(t, []string{"alice/a", "alice/b/c"}, keys)

				keys, err = store.List(ctx, "carol/")
				require.NoError(t, err)
				assert.Empty(t, keys)

				keys, err = store.List(ctx, "")
				require.NoError(t, err)
				assert.Len(t, keys, 4)
			})

			t.Run("unusual names", func(t *testing.T) {
				store := open(t)

				keys := []string{"alice/a b", "alice/x/../y", "alice/100%", "alice/ünïcode"}
				for _, key := range keys {
					require.NoError(t, store.Put(ctx, key, []byte(key)))
				}

				for _, key := range keys {
					data, err := store.Get(ctx, key)
					require.NoError(t, err, key)
					assert.Equal(t, key, string(data))
				}

				listed, err := store.List(ctx, "alice/")
				require.NoError(t, err)
				assert.ElementsMatch(t, keys, listed)
			})

			t.Run("binary data", func(t *testing.T) {
				store := open(t)

				data := []byte{0x00, 0xff, 0x10, 0x00}
				require.NoError(t, store.Put(ctx, "alice/bin", data))

				got, err := store.Get(ctx, "alice/bin")
				require.NoError(t, err)
				assert.Equal(t, data, got)
			})
		})
	}
}

func TestBlobStoreConcurrentPuts(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)

			var wg sync.WaitGroup
			errs := make(chan error, 10)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					if err := store.Put(ctx, fmt.Sprintf("alice/doc-%d", n), []byte(fmt.Sprintf("content-%d", n))); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				t.Errorf("put error: %v", err)
			}

			keys, err := store.List(ctx, "alice/")
			require.NoError(t, err)
			assert.Len(t, keys, 10)
		})
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, "alice/notes", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Len())
}
