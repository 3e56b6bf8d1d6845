// Package vault stores text documents as ciphertext blobs, one copy per
// recipient, under keys of the form "<recipient>/<name>".
//
// Sharing is done by copying: Release decrypts the local identity's copy and
// stores a second copy encrypted for the grantee. Revoke deletes that second
// copy. Revocation is not cryptographic. A recipient who read or saved the
// document before it was revoked keeps it, and nothing here can take it back.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TheMichaelB/safe/internal/crypto"
	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
	"github.com/TheMichaelB/safe/internal/storage"
)

// Vault binds an identity to a blob store and a crypto provider.
type Vault struct {
	identity string
	store    storage.BlobStore
	crypto   crypto.Provider
	session  *crypto.Session
	logger   *events.Logger
}

// New creates a vault for identity.
func New(identity string, store storage.BlobStore, provider crypto.Provider, session *crypto.Session, logger *events.Logger) (*Vault, error) {
	if err := models.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	return &Vault{
		identity: identity,
		store:    store,
		crypto:   provider,
		session:  session,
		logger: logger.WithFields(map[string]interface{}{
			"component": "vault",
			"identity":  identity,
		}),
	}, nil
}

// Identity returns the local identity the vault reads as.
func (v *Vault) Identity() string {
	return v.identity
}

// Store encrypts text for recipient and writes it under the recipient's
// namespace, replacing any previous copy. An empty recipient means the local
// identity. Surrounding whitespace is trimmed from text.
func (v *Vault) Store(ctx context.Context, name, text, recipient string) error {
	recipient = v.recipientOrSelf(recipient)
	if err := v.validate(name, recipient); err != nil {
		return err
	}

	ciphertext, err := v.crypto.Encrypt(ctx, []byte(strings.TrimSpace(text)), recipient, v.session)
	if err != nil {
		return fmt.Errorf("encrypt %s for %s: %w", name, recipient, err)
	}

	key := models.DocumentKey(recipient, name)
	if err := v.store.Put(ctx, key, ciphertext); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}

	v.logger.WithFields(map[string]interface{}{
		"document":  name,
		"recipient": recipient,
	}).Info("Stored document")

	return nil
}

// Read returns the local identity's copy of a document. ok is false when
// the document does not exist.
func (v *Vault) Read(ctx context.Context, name string) (text string, ok bool, err error) {
	if err := models.ValidateDocumentName(name); err != nil {
		return "", false, err
	}

	key := models.DocumentKey(v.identity, name)
	ciphertext, err := v.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			v.logger.WithField("document", name).Debug("Document not found")
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}

	plaintext, err := v.crypto.Decrypt(ctx, ciphertext, v.session)
	if err != nil {
		return "", false, fmt.Errorf("decrypt %s: %w", key, err)
	}

	return string(plaintext), true, nil
}

// List returns the names of the local identity's documents in store order.
func (v *Vault) List(ctx context.Context) ([]string, error) {
	keys, err := v.store.List(ctx, models.DocumentPrefix(v.identity))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if name, ok := models.DocumentName(v.identity, key); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Delete removes recipient's copy of a document. It returns false when
// there was nothing to delete.
func (v *Vault) Delete(ctx context.Context, name, recipient string) (bool, error) {
	recipient = v.recipientOrSelf(recipient)
	if err := v.validate(name, recipient); err != nil {
		return false, err
	}

	key := models.DocumentKey(recipient, name)
	if err := v.store.Delete(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", key, err)
	}

	v.logger.WithFields(map[string]interface{}{
		"document":  name,
		"recipient": recipient,
	}).Info("Deleted document")

	return true, nil
}

// Release gives recipient a copy of the local identity's document,
// encrypted for recipient. It returns false when the local copy does not
// exist, in which case nothing is written.
func (v *Vault) Release(ctx context.Context, name, recipient string) (bool, error) {
	if err := v.validate(name, recipient); err != nil {
		return false, err
	}

	text, ok, err := v.Read(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	if err := v.Store(ctx, name, text, recipient); err != nil {
		return false, err
	}

	v.logger.WithFields(map[string]interface{}{
		"document":  name,
		"recipient": recipient,
	}).Info("Released document")

	return true, nil
}

// Revoke deletes recipient's copy of a document. The local copy is read
// first; if it does not exist Revoke returns false without touching the
// recipient's copy. A recipient copy that is already gone is not an error.
func (v *Vault) Revoke(ctx context.Context, name, recipient string) (bool, error) {
	if err := v.validate(name, recipient); err != nil {
		return false, err
	}

	_, ok, err := v.Read(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	deleted, err := v.Delete(ctx, name, recipient)
	if err != nil {
		return false, err
	}

	v.logger.WithFields(map[string]interface{}{
		"document":  name,
		"recipient": recipient,
		"deleted":   deleted,
	}).Info("Revoked document")

	return true, nil
}

func (v *Vault) recipientOrSelf(recipient string) string {
	if recipient == "" {
		return v.identity
	}
	return recipient
}

func (v *Vault) validate(name, recipient string) error {
	if err := models.ValidateDocumentName(name); err != nil {
		return err
	}
	return models.ValidateIdentity(recipient)
}
