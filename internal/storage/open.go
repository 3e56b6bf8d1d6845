package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
)

// Options supplies backend defaults for safes that do not set their own.
type Options struct {
	Backend  string
	Region   string
	Endpoint string
	LocalDir string
	Timeout  time.Duration
	Logger   *events.Logger

	// MaxRetries and RetryDelay apply to backends without their own retry
	// policy. Zero values use the defaults.
	MaxRetries int
	RetryDelay time.Duration
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// Open builds the blob store a safe descriptor points at.
func Open(ctx context.Context, desc *models.SafeDescriptor, opts Options) (BlobStore, error) {
	if desc == nil {
		return nil, fmt.Errorf("open blob store: nil safe descriptor")
	}

	logger := opts.Logger
	if logger == nil {
		logger = events.Discard()
	}

	backend := desc.Backend
	if backend == "" {
		backend = opts.Backend
	}
	if backend == "" {
		backend = models.BackendS3
	}

	region := desc.Region
	if region == "" {
		region = opts.Region
	}
	endpoint := desc.Endpoint
	if endpoint == "" {
		endpoint = opts.Endpoint
	}

	if desc.ContainerName == "" {
		return nil, fmt.Errorf("safe %q has no container name", desc.Name)
	}

	logger = logger.WithFields(map[string]interface{}{
		"safe":    desc.Name,
		"backend": backend,
	})
	logger.Debug("Opening blob store")

	switch backend {
	case models.BackendS3:
		return NewS3Store(ctx, desc, region, endpoint, opts.Timeout, logger)
	case models.BackendDynamoDB:
		return NewDynamoDBStore(ctx, desc, region, endpoint, opts.Timeout, logger)
	case models.BackendSQLite:
		dbPath := localPath(opts.LocalDir, desc.ContainerName, ".db")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		store, err := NewSQLiteStore(dbPath, logger)
		if err != nil {
			return nil, err
		}
		return withRetry(store, opts, logger), nil
	case models.BackendLocal:
		return NewLocalStore(localPath(opts.LocalDir, desc.ContainerName, ""), logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func withRetry(store BlobStore, opts Options, logger *events.Logger) *RetryStore {
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return NewRetryStore(store, retries, delay, logger)
}

// localPath resolves a container name against the local data directory.
// Absolute container names are used as-is.
func localPath(baseDir, container, ext string) string {
	if filepath.IsAbs(container) {
		return container
	}
	name := container
	if ext != "" && !strings.HasSuffix(name, ext) {
		name += ext
	}
	return filepath.Join(baseDir, name)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
