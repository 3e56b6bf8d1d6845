package crypto

import "context"

// Provider defines the interface for cryptographic operations.
type Provider interface {
	// Encrypt encrypts plaintext for the named recipient identity.
	Encrypt(ctx context.Context, plaintext []byte, recipient string, session *Session) ([]byte, error)

	// Decrypt decrypts ciphertext with the local identity.
	Decrypt(ctx context.Context, ciphertext []byte, session *Session) ([]byte, error)
}
