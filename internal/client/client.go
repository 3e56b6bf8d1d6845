package client

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TheMichaelB/safe/internal/config"
	"github.com/TheMichaelB/safe/internal/configstore"
	"github.com/TheMichaelB/safe/internal/crypto"
	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
	"github.com/TheMichaelB/safe/internal/registry"
	"github.com/TheMichaelB/safe/internal/storage"
	"github.com/TheMichaelB/safe/internal/vault"
)

// Environment variables read when migrating a legacy install.
const (
	LegacyAccessKeyEnv = "AWS_ACCESS_KEY"
	LegacySecretKeyEnv = "AWS_SECRET_ACCESS_KEY"
)

// Options carries the hooks supplied by the interactive shell.
type Options struct {
	PassphraseSource crypto.PassphraseSource
}

// Client provides the high-level API for safe operations.
type Client struct {
	Config   *configstore.Store
	Keychain *crypto.Keychain
	Crypto   *crypto.AgeProvider
	Session  *crypto.Session

	settings *config.Config
	logger   *events.Logger
	registry *registry.Registry
	store    storage.BlobStore
}

// New wires the keychain, crypto session and config store. Nothing is read
// from disk until Open.
func New(cfg *config.Config, logger *events.Logger, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	keychain := crypto.NewKeychain(cfg.Paths.KeychainDir)
	provider := crypto.NewProvider(keychain, logger)
	session := crypto.NewSession(false, opts.PassphraseSource)

	return &Client{
		Config:   configstore.New(cfg.Paths.ConfigFile, provider, session, logger),
		Keychain: keychain,
		Crypto:   provider,
		Session:  session,
		settings: cfg,
		logger:   logger,
	}, nil
}

// Settings returns the application settings the client was built with.
func (c *Client) Settings() *config.Config {
	return c.settings
}

// Open loads the config record and builds the safe registry. A missing
// config is returned as models.ErrConfigNotFound for the shell to bootstrap.
func (c *Client) Open(ctx context.Context) (*registry.Registry, error) {
	if c.registry != nil {
		return c.registry, nil
	}

	record, err := c.Config.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.registry = registry.New(record, c.Config, c.logger)
	return c.registry, nil
}

// Bootstrap writes the first config record and opens it.
func (c *Client) Bootstrap(ctx context.Context, params configstore.BootstrapParams) (*registry.Registry, error) {
	record, err := c.Config.Bootstrap(ctx, params)
	if err != nil {
		return nil, err
	}

	c.registry = registry.New(record, c.Config, c.logger)
	return c.registry, nil
}

// MigrateLegacy imports a first-generation install, if one is present and
// no config exists yet. Storage credentials come from the legacy
// environment variables.
func (c *Client) MigrateLegacy(ctx context.Context, useAgent bool) (bool, error) {
	record, migrated, err := c.Config.MigrateLegacy(ctx, configstore.LegacyParams{
		IdentityFile: c.settings.Paths.LegacyIdentityFile,
		AccessKey:    os.Getenv(LegacyAccessKeyEnv),
		SecretKey:    os.Getenv(LegacySecretKeyEnv),
		Bucket:       c.settings.Store.LegacyBucket,
		UseAgent:     useAgent,
	})
	if err != nil || !migrated {
		return false, err
	}

	c.registry = registry.New(record, c.Config, c.logger)
	return true, nil
}

// Vault opens the blob store of the current safe and returns a document
// vault bound to the configured identity.
func (c *Client) Vault(ctx context.Context) (*vault.Vault, error) {
	reg, err := c.Open(ctx)
	if err != nil {
		return nil, err
	}

	desc, err := reg.Resolve()
	if err != nil {
		return nil, err
	}

	ctx = events.WithSafe(ctx, desc.Name)
	logger := events.FromContext(ctx)

	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}

	store, err := storage.Open(ctx, &desc, storage.Options{
		Backend:  c.settings.Store.Backend,
		Region:   c.settings.Store.Region,
		Endpoint: c.settings.Store.Endpoint,
		LocalDir: c.settings.Store.LocalDir,
		Timeout:  c.settings.Store.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open safe %s: %w", desc.Name, err)
	}
	c.store = store

	logger.Debug("Opened safe")

	return vault.New(reg.Record().Identity, store, c.Crypto, c.Session, logger)
}

// Identity returns the configured identity, loading the config if needed.
func (c *Client) Identity(ctx context.Context) (string, error) {
	reg, err := c.Open(ctx)
	if err != nil {
		return "", err
	}
	return reg.Record().Identity, nil
}

// Recipients lists the public keys in the keychain.
func (c *Client) Recipients() ([]crypto.RecipientInfo, error) {
	return c.Keychain.List()
}

// Reset deletes the config file. Registered safes are lost; stored
// documents are not touched.
func (c *Client) Reset() error {
	if err := c.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close blob store")
	}
	c.registry = nil
	return c.Config.Delete()
}

// Close releases the open blob store, if any.
func (c *Client) Close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

// IsFirstRun reports whether err means no config exists yet.
func IsFirstRun(err error) bool {
	return errors.Is(err, models.ErrConfigNotFound)
}
