package configstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/safe/internal/configstore"
	"github.com/TheMichaelB/safe/internal/crypto"
	"github.com/TheMichaelB/safe/internal/models"
	"github.com/TheMichaelB/safe/internal/registry"
	"github.com/TheMichaelB/safe/test/testutil"
)

type fixture struct {
	keyring  *testutil.Keyring
	provider *crypto.AgeProvider
	path     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keyring := testutil.NewKeyring(t, "alice@example.com", "bob@example.com")
	return &fixture{
		keyring:  keyring,
		provider: crypto.NewProvider(keyring.Keychain(), testutil.NewTestLogger()),
		path:     filepath.Join(t.TempDir(), "safe", "config.json"),
	}
}

func (f *fixture) store(source crypto.PassphraseSource) *configstore.Store {
	return configstore.New(f.path, f.provider, crypto.NewSession(false, source), testutil.NewTestLogger())
}

// writeEnvelope writes a config file whose body is plaintext encrypted for
// alice, bypassing record validation.
func (f *fixture) writeEnvelope(t *testing.T, useAgent bool, plaintext string) []byte {
	t.Helper()
	ciphertext, err := f.provider.Encrypt(context.Background(), []byte(plaintext), "alice@example.com", crypto.NewSession(false, nil))
	require.NoError(t, err)

	data, err := json.Marshal(configstore.Envelope{UseAgent: useAgent, EncryptedBody: string(ciphertext)})
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Dir(f.path), 0700))
	require.NoError(t, os.WriteFile(f.path, data, 0600))
	return data
}

func TestLoadMissing(t *testing.T) {
	f := newFixture(t)
	store := f.store(nil)

	assert.False(t, store.Exists())

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, models.ErrConfigNotFound)
}

func TestBootstrapAndLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := f.store(nil)

	record, err := store.Bootstrap(ctx, configstore.BootstrapParams{Identity: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", record.Identity)
	assert.False(t, record.UseAgentForCrypto)
	assert.Empty(t, record.Registry.Safes)
	assert.Empty(t, record.Registry.CurrentSafe)

	assert.True(t, store.Exists())

	info, err := os.Stat(f.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := f.store(nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestEnvelopeFormat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := f.store(nil)

	record := models.NewConfigRecord("alice@example.com", true)
	record.Registry.Safes["prod"] = models.SafeDescriptor{Name: "prod", AccessKey: "K1", SecretKey: "S1", ContainerName: "bucket1"}
	record.Registry.CurrentSafe = "prod"
	require.NoError(t, store.Save(ctx, record))

	data, err := os.ReadFile(f.path)
	require.NoError(t, err)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Len(t, envelope, 2)
	assert.Equal(t, true, envelope["useAgent"])

	body, ok := envelope["encryptedBody"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(body, "-----BEGIN AGE ENCRYPTED FILE-----"))
	assert.NotContains(t, string(data), "S1")
	assert.NotContains(t, string(data), "bucket1")

	plaintext, err := f.keyring.DecryptAs("alice@example.com", []byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"identity": "alice@example.com",
		"safes": {"prod": {"accessKey": "K1", "secretKey": "S1", "containerName": "bucket1"}},
		"currentSafe": "prod"
	}`, string(plaintext))
}

func TestBootstrapErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing identity asks for input", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store(nil).Bootstrap(ctx, configstore.BootstrapParams{})

		var input *models.InputRequiredError
		require.True(t, errors.As(err, &input))
		assert.Equal(t, models.InputIdentity, input.Field)
		assert.NoFileExists(t, f.path)
	})

	t.Run("invalid identity", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store(nil).Bootstrap(ctx, configstore.BootstrapParams{Identity: "a/b"})
		assert.ErrorIs(t, err, models.ErrInvalidIdentity)
		assert.NoFileExists(t, f.path)
	})

	t.Run("identity without public key", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store(nil).Bootstrap(ctx, configstore.BootstrapParams{Identity: "carol@example.com"})
		assert.ErrorIs(t, err, models.ErrUnknownRecipient)
		assert.NoFileExists(t, f.path)
	})

	t.Run("already bootstrapped", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store(nil).Bootstrap(ctx, configstore.BootstrapParams{Identity: "alice@example.com"})
		require.NoError(t, err)

		_, err = f.store(nil).Bootstrap(ctx, configstore.BootstrapParams{Identity: "bob@example.com"})
		assert.ErrorIs(t, err, models.ErrConfigExists)
	})
}

func TestLoadCorruptLeavesFile(t *testing.T) {
	tests := []struct {
		name  string
		write func(t *testing.T, f *fixture) []byte
	}{
		{
			name: "envelope is not json",
			write: func(t *testing.T, f *fixture) []byte {
				data := []byte("{not json")
				require.NoError(t, os.MkdirAll(filepath.Dir(f.path), 0700))
				require.NoError(t, os.WriteFile(f.path, data, 0600))
				return data
			},
		},
		{
			name: "empty body",
			write: func(t *testing.T, f *fixture) []byte {
				data := []byte(`{"useAgent": false, "encryptedBody": ""}`)
				require.NoError(t, os.MkdirAll(filepath.Dir(f.path), 0700))
				require.NoError(t, os.WriteFile(f.path, data, 0600))
				return data
			},
		},
		{
			name: "body is not ciphertext",
			write: func(t *testing.T, f *fixture) []byte {
				data := []byte(`{"useAgent": false, "encryptedBody": "hello"}`)
				require.NoError(t, os.MkdirAll(filepath.Dir(f.path), 0700))
				require.NoError(t, os.WriteFile(f.path, data, 0600))
				return data
			},
		},
		{
			name: "decrypts to invalid json",
			write: func(t *testing.T, f *fixture) []byte {
				return f.writeEnvelope(t, false, "definitely not json")
			},
		},
		{
			name: "decrypts to invalid record",
			write: func(t *testing.T, f *fixture) []byte {
				return f.writeEnvelope(t, false, `{"identity": "alice@example.com", "safes": {"prod": {"secretKey": "s", "containerName": "b"}}, "currentSafe": "prod"}`)
			},
		},
		{
			name: "encrypted for someone else",
			write: func(t *testing.T, f *fixture) []byte {
				ciphertext, err := f.provider.Encrypt(context.Background(), []byte(`{}`), "bob@example.com", crypto.NewSession(false, nil))
				require.NoError(t, err)
				data, err := json.Marshal(configstore.Envelope{EncryptedBody: string(ciphertext)})
				require.NoError(t, err)
				require.NoError(t, os.MkdirAll(filepath.Dir(f.path), 0700))
				require.NoError(t, os.WriteFile(f.path, data, 0600))
				return data
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			original := tt.write(t, f)

			_, err := f.store(nil).Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfigCorrupt)

			var corrupt *models.ConfigCorruptError
			require.True(t, errors.As(err, &corrupt))
			assert.Equal(t, f.path, corrupt.Path)

			after, err := os.ReadFile(f.path)
			require.NoError(t, err, "corrupt config must stay on disk")
			assert.Equal(t, original, after)
		})
	}
}

func TestLoadDanglingSelectionResolvesAsUnknownSafe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	original := f.writeEnvelope(t, false, `{
		"identity": "alice@example.com",
		"safes": {"prod": {"accessKey": "k", "secretKey": "s", "containerName": "b"}},
		"currentSafe": "ghost"
	}`)

	store := f.store(nil)
	record, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ghost", record.Registry.CurrentSafe)

	reg := registry.New(record, store, testutil.NewTestLogger())
	_, err = reg.Resolve()
	assert.ErrorIs(t, err, models.ErrUnknownSafe)
	assert.Equal(t, "safe safes set <name>", models.Remedy(err))

	after, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, original, after)

	require.NoError(t, reg.Set(ctx, "prod"))
	reloaded, err := f.store(nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "prod", reloaded.Registry.CurrentSafe)
}

func TestSaveFailureKeepsPreviousFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := f.store(nil)

	_, err := store.Bootstrap(ctx, configstore.BootstrapParams{Identity: "alice@example.com"})
	require.NoError(t, err)

	before, err := os.ReadFile(f.path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		record *models.ConfigRecord
	}{
		{"nil record", nil},
		{"invalid record", &models.ConfigRecord{Identity: "alice@example.com", Registry: models.Registry{CurrentSafe: "ghost"}}},
		{"no key for identity", models.NewConfigRecord("carol@example.com", false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, store.Save(ctx, tt.record))

			after, err := os.ReadFile(f.path)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}

	entries, err := os.ReadDir(filepath.Dir(f.path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestPassphrasePromptedOncePerStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.keyring.ProtectIdentity("hunter2")

	prompter := testutil.NewPassphrasePrompter("hunter2")
	store := f.store(prompter.Prompt)

	_, err := store.Bootstrap(ctx, configstore.BootstrapParams{Identity: "alice@example.com"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.Load(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, prompter.Calls())
	assert.Equal(t, 1, store.Session().PromptCount())

	// A second store is a second session and prompts again.
	other := testutil.NewPassphrasePrompter("hunter2")
	_, err = f.store(other.Prompt).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Calls())
}

func TestLoadWrongPassphraseIsNotCorruption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.keyring.ProtectIdentity("hunter2")

	_, err := f.store(nil).Bootstrap(ctx, configstore.BootstrapParams{Identity: "alice@example.com"})
	require.NoError(t, err)

	_, err = f.store(testutil.NewPassphrasePrompter("wrong").Prompt).Load(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIdentityLocked)
	assert.NotErrorIs(t, err, models.ErrConfigCorrupt)
}

func TestLoadAgentFlagAppliedBeforeDecrypt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.keyring.ProtectIdentity("hunter2")

	_, err := f.store(nil).Bootstrap(ctx, configstore.BootstrapParams{Identity: "alice@example.com", UseAgent: true})
	require.NoError(t, err)

	prompter := testutil.NewPassphrasePrompter("hunter2")
	store := f.store(prompter.Prompt)

	_, err = store.Load(ctx)
	var input *models.InputRequiredError
	require.True(t, errors.As(err, &input))
	assert.Equal(t, models.InputPassphrase, input.Field)
	assert.Equal(t, 0, prompter.Calls())
	assert.True(t, store.Session().UseAgent())

	t.Setenv(crypto.IdentityEnv, f.keyring.Identity("alice@example.com").String())
	record, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, record.UseAgentForCrypto)
}

func TestMigrateLegacy(t *testing.T) {
	ctx := context.Background()

	t.Run("with credentials", func(t *testing.T) {
		f := newFixture(t)
		legacy := filepath.Join(t.TempDir(), ".saferc")
		require.NoError(t, os.WriteFile(legacy, []byte("alice@example.com\n"), 0600))

		store := f.store(nil)
		record, migrated, err := store.MigrateLegacy(ctx, configstore.LegacyParams{
			IdentityFile: legacy,
			AccessKey:    "K1",
			SecretKey:    "S1",
			Bucket:       "scoryst-safe",
		})
		require.NoError(t, err)
		assert.True(t, migrated)
		assert.Equal(t, "alice@example.com", record.Identity)
		assert.Equal(t, configstore.LegacySafeName, record.Registry.CurrentSafe)
		assert.Equal(t, "scoryst-safe", record.Registry.Safes[configstore.LegacySafeName].ContainerName)

		assert.FileExists(t, legacy)

		loaded, err := f.store(nil).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, record, loaded)

		_, migrated, err = store.MigrateLegacy(ctx, configstore.LegacyParams{IdentityFile: legacy})
		require.NoError(t, err)
		assert.False(t, migrated, "an existing config is never overwritten")
	})

	t.Run("without credentials", func(t *testing.T) {
		f := newFixture(t)
		legacy := filepath.Join(t.TempDir(), ".saferc")
		require.NoError(t, os.WriteFile(legacy, []byte("alice@example.com"), 0600))

		record, migrated, err := f.store(nil).MigrateLegacy(ctx, configstore.LegacyParams{IdentityFile: legacy, Bucket: "scoryst-safe"})
		require.NoError(t, err)
		assert.True(t, migrated)
		assert.Empty(t, record.Registry.Safes)
		assert.Empty(t, record.Registry.CurrentSafe)
	})

	t.Run("no legacy file", func(t *testing.T) {
		f := newFixture(t)
		record, migrated, err := f.store(nil).MigrateLegacy(ctx, configstore.LegacyParams{
			IdentityFile: filepath.Join(t.TempDir(), ".saferc"),
		})
		require.NoError(t, err)
		assert.False(t, migrated)
		assert.Nil(t, record)
		assert.NoFileExists(t, f.path)
	})

	t.Run("empty legacy file", func(t *testing.T) {
		f := newFixture(t)
		legacy := filepath.Join(t.TempDir(), ".saferc")
		require.NoError(t, os.WriteFile(legacy, []byte("\n"), 0600))

		_, _, err := f.store(nil).MigrateLegacy(ctx, configstore.LegacyParams{IdentityFile: legacy})
		assert.ErrorIs(t, err, models.ErrInvalidIdentity)
		assert.NoFileExists(t, f.path)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := f.store(nil)

	assert.ErrorIs(t, store.Delete(), models.ErrConfigNotFound)

	_, err := store.Bootstrap(ctx, configstore.BootstrapParams{Identity: "alice@example.com"})
	require.NoError(t, err)

	require.NoError(t, store.Delete())
	assert.False(t, store.Exists())

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, models.ErrConfigNotFound)
}
