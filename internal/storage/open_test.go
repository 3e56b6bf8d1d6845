package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/safe/internal/models"
	"github.com/TheMichaelB/safe/internal/storage"
)

func descriptor(backend, container string) *models.SafeDescriptor {
	return &models.SafeDescriptor{
		Name:          "test",
		AccessKey:     "AKIATEST",
		SecretKey:     "secret",
		ContainerName: container,
		Backend:       backend,
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := storage.Options{
		Backend:  models.BackendS3,
		Region:   "us-east-1",
		LocalDir: dir,
		Timeout:  time.Second,
		Logger:   testLogger(),
	}

	tests := []struct {
		name    string
		desc    *models.SafeDescriptor
		want    interface{}
		wantErr string
	}{
		{"local", descriptor(models.BackendLocal, "blobs"), &storage.LocalStore{}, ""},
		{"sqlite", descriptor(models.BackendSQLite, "vault"), &storage.RetryStore{}, ""},
		{"s3 default", descriptor("", "my-bucket"), &storage.S3Store{}, ""},
		{"dynamodb", descriptor(models.BackendDynamoDB, "my-table"), &storage.DynamoDBStore{}, ""},
		{"unknown backend", descriptor("ftp", "x"), nil, "unknown storage backend"},
		{"no container", descriptor(models.BackendLocal, ""), nil, "no container name"},
		{"nil descriptor", nil, nil, "nil safe descriptor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := storage.Open(ctx, tt.desc, opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.want, store)
		})
	}
}

func TestOpenLocalUsesContainerDirectory(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.Open(context.Background(), descriptor(models.BackendLocal, "personal"), storage.Options{
		LocalDir: dir,
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	local, ok := store.(*storage.LocalStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "personal"), local.BaseDir())
}

func TestOpenS3RequiresCredentials(t *testing.T) {
	desc := descriptor(models.BackendS3, "bucket")
	desc.SecretKey = ""

	_, err := storage.Open(context.Background(), desc, storage.Options{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access credentials")
}

func TestOpenSQLiteRetriesBusyDatabase(t *testing.T) {
	store, err := storage.Open(context.Background(), descriptor(models.BackendSQLite, "personal"), storage.Options{
		LocalDir: t.TempDir(),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	defer store.Close()

	retry, ok := store.(*storage.RetryStore)
	require.True(t, ok)
	assert.IsType(t, &storage.SQLiteStore{}, retry.Unwrap())
}
