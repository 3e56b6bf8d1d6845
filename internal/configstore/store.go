// Package configstore persists the single configuration record: identity,
// agent flag and the safe registry. The record is encrypted for its own
// identity and wrapped in a small plaintext envelope that carries the agent
// flag, which must be known before decryption is attempted.
//
// A file that cannot be parsed or decrypted is reported as corrupt and left
// on disk. Nothing in this package removes the file except an explicit call
// to Delete.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TheMichaelB/safe/internal/crypto"
	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
)

// LegacySafeName names the safe created when migrating a legacy install.
const LegacySafeName = "default"

// Envelope is the on-disk form of the config file.
type Envelope struct {
	UseAgent      bool   `json:"useAgent"`
	EncryptedBody string `json:"encryptedBody"`
}

// BootstrapParams are the answers collected on first run.
type BootstrapParams struct {
	Identity string
	UseAgent bool
}

// LegacyParams locate a first-generation install: a plain-text identity file
// and storage credentials taken from the environment.
type LegacyParams struct {
	IdentityFile string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseAgent     bool
}

// Store reads and writes the encrypted config file.
type Store struct {
	mu      sync.Mutex
	path    string
	crypto  crypto.Provider
	session *crypto.Session
	logger  *events.Logger
}

// New creates a config store. The session is owned by the store and carries
// the passphrase cache for the life of the process.
func New(path string, provider crypto.Provider, session *crypto.Session, logger *events.Logger) *Store {
	return &Store{
		path:    path,
		crypto:  provider,
		session: session,
		logger:  logger.WithField("component", "config_store"),
	}
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Session returns the crypto session owned by this store.
func (s *Store) Session() *crypto.Session {
	return s.session
}

// Exists reports whether a config file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads, decrypts and validates the config record.
func (s *Store) Load(ctx context.Context) (*models.ConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("path", s.path).Debug("Loading config")

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrConfigNotFound
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, s.corrupt(fmt.Errorf("parse envelope: %w", err))
	}
	if strings.TrimSpace(envelope.EncryptedBody) == "" {
		return nil, s.corrupt(errors.New("envelope has no encrypted body"))
	}

	s.session.SetUseAgent(envelope.UseAgent)

	plaintext, err := s.crypto.Decrypt(ctx, []byte(envelope.EncryptedBody), s.session)
	if err != nil {
		// A key that cannot be unlocked, or a missing answer, says nothing
		// about the file itself.
		var input *models.InputRequiredError
		if errors.As(err, &input) || errors.Is(err, models.ErrIdentityLocked) || !errors.Is(err, models.ErrDecryptionFailed) {
			return nil, err
		}
		return nil, s.corrupt(err)
	}

	var body models.ConfigBody
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return nil, s.corrupt(fmt.Errorf("parse body: %w", err))
	}

	record := body.Record(envelope.UseAgent)
	if err := record.ValidateStored(); err != nil {
		return nil, s.corrupt(fmt.Errorf("validate body: %w", err))
	}

	s.logger.WithFields(map[string]interface{}{
		"safes":   len(record.Registry.Safes),
		"current": record.Registry.CurrentSafe,
	}).Debug("Loaded config")

	return record, nil
}

// Bootstrap writes the first record: the identity, the agent flag, an empty
// registry and no current safe. The caller then creates the first safe
// through the registry.
func (s *Store) Bootstrap(ctx context.Context, params BootstrapParams) (*models.ConfigRecord, error) {
	if s.Exists() {
		return nil, models.ErrConfigExists
	}

	if strings.TrimSpace(params.Identity) == "" {
		return nil, models.NeedInput(models.InputIdentity, "no identity configured")
	}
	if err := models.ValidateIdentity(params.Identity); err != nil {
		return nil, err
	}

	record := models.NewConfigRecord(params.Identity, params.UseAgent)
	if err := s.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("bootstrap config: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"identity":  params.Identity,
		"use_agent": params.UseAgent,
	}).Info("Created config")

	return record, nil
}

// Save encrypts record for its own identity and replaces the config file
// atomically. A failed save leaves the previous file untouched.
func (s *Store) Save(ctx context.Context, record *models.ConfigRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record == nil {
		return errors.New("save config: nil record")
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	body, err := json.Marshal(record.Body())
	if err != nil {
		return fmt.Errorf("marshal config body: %w", err)
	}

	s.session.SetUseAgent(record.UseAgentForCrypto)

	ciphertext, err := s.crypto.Encrypt(ctx, body, record.Identity, s.session)
	if err != nil {
		return fmt.Errorf("encrypt config: %w", err)
	}

	data, err := json.MarshalIndent(Envelope{
		UseAgent:      record.UseAgentForCrypto,
		EncryptedBody: string(ciphertext),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := writeFileAtomic(s.path, data, 0600); err != nil {
		return err
	}

	s.logger.WithField("safes", len(record.Registry.Safes)).Debug("Saved config")
	return nil
}

// MigrateLegacy converts a first-generation install into an encrypted
// record. It does nothing when a config already exists or no legacy identity
// file is found. The legacy file is left in place.
func (s *Store) MigrateLegacy(ctx context.Context, params LegacyParams) (*models.ConfigRecord, bool, error) {
	if s.Exists() || params.IdentityFile == "" {
		return nil, false, nil
	}

	data, err := os.ReadFile(params.IdentityFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read legacy identity: %w", err)
	}

	identity := strings.TrimSpace(string(data))
	if err := models.ValidateIdentity(identity); err != nil {
		return nil, false, fmt.Errorf("legacy identity file %s: %w", params.IdentityFile, err)
	}

	record := models.NewConfigRecord(identity, params.UseAgent)
	if params.AccessKey != "" && params.SecretKey != "" && params.Bucket != "" {
		record.Registry.Safes[LegacySafeName] = models.SafeDescriptor{
			Name:          LegacySafeName,
			AccessKey:     params.AccessKey,
			SecretKey:     params.SecretKey,
			ContainerName: params.Bucket,
			Backend:       models.BackendS3,
		}
		record.Registry.CurrentSafe = LegacySafeName
	}

	if err := s.Save(ctx, record); err != nil {
		return nil, false, fmt.Errorf("migrate legacy config: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"identity": identity,
		"safes":    len(record.Registry.Safes),
		"source":   params.IdentityFile,
	}).Info("Migrated legacy config")

	return record, true, nil
}

// Delete removes the config file. Registered safes are lost.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return models.ErrConfigNotFound
		}
		return fmt.Errorf("delete config file: %w", err)
	}

	s.session.Forget()
	s.logger.WithField("path", s.path).Warn("Deleted config")
	return nil
}

func (s *Store) corrupt(err error) error {
	s.logger.WithError(err).WithField("path", s.path).Error("Config file is corrupt")
	return &models.ConfigCorruptError{Path: s.path, Err: err}
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename config file: %w", err)
	}

	return nil
}
