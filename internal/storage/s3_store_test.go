package storage_test

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/safe/internal/models"
	"github.com/TheMichaelB/safe/internal/storage"
)

// fakeS3 serves the path-style object API for one bucket from memory.
// Listings are paged pageSize keys at a time.
type fakeS3 struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string][]byte
	pageSize int
	denied   map[string]bool
	methods  []string
	pages    int
}

type s3ListResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	Xmlns                 string   `xml:"xmlns,attr"`
	Name                  string   `xml:"Name"`
	Prefix                string   `xml:"Prefix"`
	KeyCount              int      `xml:"KeyCount"`
	MaxKeys               int      `xml:"MaxKeys"`
	IsTruncated           bool     `xml:"IsTruncated"`
	NextContinuationToken string   `xml:"NextContinuationToken,omitempty"`
	Contents              []s3Object `xml:"Contents"`
}

type s3Object struct {
	Key  string `xml:"Key"`
	Size int    `xml:"Size"`
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		bucket:   bucket,
		objects:  make(map[string][]byte),
		pageSize: 2,
		denied:   make(map[string]bool),
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.methods = append(f.methods, r.Method)
	_, _ = io.Copy(io.Discard, r.Body)

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != f.bucket {
		f.writeError(w, r, http.StatusNotFound, "NoSuchBucket")
		return
	}

	if key == "" {
		if r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
			f.list(w, r)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if f.denied[key] {
		f.writeError(w, r, http.StatusForbidden, "AccessDenied")
		return
	}

	data, ok := f.objects[key]
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		if !ok {
			f.writeError(w, r, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	f.pages++
	prefix := r.URL.Query().Get("prefix")

	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := r.URL.Query().Get("continuation-token"); token != "" {
		start, _ = strconv.Atoi(token)
	}
	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	result := s3ListResult{
		Xmlns:   "http://s3.amazonaws.com/doc/2006-03-01/",
		Name:    f.bucket,
		Prefix:  prefix,
		MaxKeys: 1000,
	}
	for _, key := range keys[start:end] {
		result.Contents = append(result.Contents, s3Object{Key: key, Size: len(f.objects[key])})
	}
	result.KeyCount = len(result.Contents)
	if end < len(keys) {
		result.IsTruncated = true
		result.NextContinuationToken = strconv.Itoa(end)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(result)
}

// writeError answers like S3: an XML error document, except for HEAD
// requests which carry no body.
func (f *fakeS3) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `%s<Error><Code>%s</Code><Message>%s</Message><RequestId>test</RequestId></Error>`,
		xml.Header, code, code)
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeS3) listPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages
}

func (f *fakeS3) methodCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m == method {
			n++
		}
	}
	return n
}

func newTestS3Store(t *testing.T, fake *fakeS3) *storage.S3Store {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := storage.NewS3Store(context.Background(), descriptor(models.BackendS3, fake.bucket),
		"us-east-1", server.URL, 5*time.Second, testLogger())
	require.NoError(t, err)
	return store
}

func TestS3StoreGet(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("safe-bucket")
	fake.objects["alice@example.com/notes"] = []byte("ciphertext")
	fake.denied["alice@example.com/locked"] = true
	store := newTestS3Store(t, fake)

	data, err := store.Get(ctx, "alice@example.com/notes")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)

	_, err = store.Get(ctx, "alice@example.com/none")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Get(ctx, "alice@example.com/locked")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestS3StoreDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("safe-bucket")
	fake.objects["alice@example.com/notes"] = []byte("ciphertext")
	store := newTestS3Store(t, fake)

	require.NoError(t, store.Delete(ctx, "alice@example.com/notes"))
	assert.False(t, fake.has("alice@example.com/notes"))
	assert.Equal(t, 1, fake.methodCount(http.MethodDelete))

	err := store.Delete(ctx, "alice@example.com/notes")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 1, fake.methodCount(http.MethodDelete), "absent object must not be deleted")
	assert.Equal(t, 2, fake.methodCount(http.MethodHead))
}

func TestS3StoreListFollowsPages(t *testing.T) {
	fake := newFakeS3("safe-bucket")
	for _, key := range []string{
		"alice@example.com/a",
		"alice@example.com/b",
		"alice@example.com/c",
		"bob@example.com/a",
	} {
		fake.objects[key] = []byte("x")
	}
	store := newTestS3Store(t, fake)

	keys, err := store.List(context.Background(), "alice@example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com/a", "alice@example.com/b", "alice@example.com/c"}, keys)
	assert.Equal(t, 2, fake.listPages())

	keys, err = store.List(context.Background(), "carol@example.com/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
