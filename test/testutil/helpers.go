package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheMichaelB/safe/internal/config"
	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// TestContext creates a test context with reasonable timeout.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestConfigWithDir creates settings rooted in dir using the local backend.
func TestConfigWithDir(dir, keychainDir string) *config.Config {
	return &config.Config{
		Paths: config.PathsConfig{
			ConfigFile:         filepath.Join(dir, "config.json"),
			KeychainDir:        keychainDir,
			LegacyIdentityFile: filepath.Join(dir, ".saferc"),
		},
		Store: config.StoreConfig{
			Backend:      models.BackendLocal,
			Region:       "us-east-1",
			LocalDir:     filepath.Join(dir, "blobs"),
			Timeout:      5 * time.Second,
			LegacyBucket: "scoryst-safe",
		},
		Log: config.LogConfig{
			Level:  "debug",
			Format: "json",
			Color:  false,
		},
	}
}

// LocalSafe returns a descriptor for a safe stored by the local backend.
func LocalSafe(name string) models.SafeDescriptor {
	return models.SafeDescriptor{
		Name:          name,
		AccessKey:     "AKIA" + strings.ToUpper(name),
		SecretKey:     "secret-" + name,
		ContainerName: name,
		Backend:       models.BackendLocal,
	}
}

// LogEntry is one decoded JSON log line.
type LogEntry struct {
	Time    string                 `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"msg"`
	Fields  map[string]interface{} `json:"-"`
}

// LogOutput captures JSON log output for assertions.
type LogOutput struct {
	mu      sync.RWMutex
	raw     bytes.Buffer
	entries []LogEntry
}

// NewLogOutput creates a new log output capturer.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Logger returns a debug JSON logger writing to lo.
func (lo *LogOutput) Logger() *events.Logger {
	return events.NewTestLogger(events.DebugLevel, "json", lo)
}

// Write implements io.Writer.
func (lo *LogOutput) Write(p []byte) (n int, err error) {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	lo.raw.Write(p)

	var entry LogEntry
	if err := json.Unmarshal(p, &entry); err == nil {
		_ = json.Unmarshal(p, &entry.Fields)
		lo.entries = append(lo.entries, entry)
	}
	return len(p), nil
}

// Entries returns captured log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	entries := make([]LogEntry, len(lo.entries))
	copy(entries, lo.entries)
	return entries
}

// String returns everything written so far.
func (lo *LogOutput) String() string {
	lo.mu.RLock()
	defer lo.mu.RUnlock()
	return lo.raw.String()
}

// HasMessage checks if any log entry contains the message.
func (lo *LogOutput) HasMessage(message string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}
