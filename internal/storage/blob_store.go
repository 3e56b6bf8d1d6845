package storage

import (
	"context"

	"github.com/TheMichaelB/safe/internal/models"
)

// ErrNotFound is returned by Get and Delete when no blob exists for a key.
var ErrNotFound = models.ErrNotFound

// BlobStore is a flat key/value store of opaque ciphertext.
type BlobStore interface {
	// Put writes data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. It returns ErrNotFound when key is absent.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
