package crypto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
)

// AgeProvider encrypts with age and writes ASCII-armored ciphertext.
type AgeProvider struct {
	keychain *Keychain
	logger   *events.Logger
}

// NewProvider creates an age-backed crypto provider.
func NewProvider(keychain *Keychain, logger *events.Logger) *AgeProvider {
	return &AgeProvider{
		keychain: keychain,
		logger:   logger.WithField("component", "crypto"),
	}
}

// Keychain returns the keychain the provider reads keys from.
func (p *AgeProvider) Keychain() *Keychain {
	return p.keychain
}

// Encrypt encrypts plaintext for every public key registered to recipient.
// age needs no passphrase to encrypt, so the session is not consulted.
func (p *AgeProvider) Encrypt(ctx context.Context, plaintext []byte, recipient string, session *Session) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recipients, err := p.keychain.Recipients(recipient)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	armored := armor.NewWriter(&buf)

	w, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalize armor: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"recipient": recipient,
		"keys":      len(recipients),
		"size":      buf.Len(),
	}).Debug("Encrypted payload")

	return buf.Bytes(), nil
}

// Decrypt decrypts armored or binary age ciphertext with the local identity.
func (p *AgeProvider) Decrypt(ctx context.Context, ciphertext []byte, session *Session) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	identities, err := p.keychain.Identities(session)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(ciphertext)
	var src io.Reader = bytes.NewReader(trimmed)
	if bytes.HasPrefix(trimmed, []byte(armor.Header)) {
		src = armor.NewReader(src)
	}

	r, err := age.Decrypt(src, identities...)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, &models.DecryptError{Reason: "not encrypted for this identity", Err: err}
		}
		return nil, &models.DecryptError{Reason: "invalid ciphertext", Err: err}
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, &models.DecryptError{Reason: "corrupt payload", Err: err}
	}

	p.logger.WithField("size", len(plaintext)).Debug("Decrypted payload")

	return plaintext, nil
}
