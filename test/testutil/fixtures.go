package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/safe/internal/crypto"
)

// Keyring is a throwaway keychain directory populated with freshly
// generated age keys. The local identity's private key is written to the
// keychain; the other identities' private keys are kept in memory so tests
// can decrypt as them.
type Keyring struct {
	t        *testing.T
	Dir      string
	Local    string
	keys     map[string]*age.X25519Identity
	keychain *crypto.Keychain
}

// NewKeyring creates a keychain for local plus every name in others.
func NewKeyring(t *testing.T, local string, others ...string) *Keyring {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, crypto.RecipientsDir), 0700))

	k := &Keyring{
		t:        t,
		Dir:      dir,
		Local:    local,
		keys:     make(map[string]*age.X25519Identity),
		keychain: crypto.NewKeychain(dir),
	}

	k.AddRecipient(local)
	for _, name := range others {
		k.AddRecipient(name)
	}

	require.NoError(t, os.WriteFile(k.keychain.IdentityPath(), []byte(k.keys[local].String()+"\n"), 0600))

	return k
}

// Keychain returns the keychain backed by this keyring's directory.
func (k *Keyring) Keychain() *crypto.Keychain {
	return k.keychain
}

// AddRecipient generates a key for name and publishes its public half.
func (k *Keyring) AddRecipient(name string) *age.X25519Identity {
	k.t.Helper()

	id, err := age.GenerateX25519Identity()
	require.NoError(k.t, err)

	k.keys[name] = id
	require.NoError(k.t, os.WriteFile(k.keychain.RecipientPath(name), []byte(id.Recipient().String()+"\n"), 0644))
	return id
}

// RemoveRecipient deletes name's public key file.
func (k *Keyring) RemoveRecipient(name string) {
	k.t.Helper()
	require.NoError(k.t, os.Remove(k.keychain.RecipientPath(name)))
}

// Identity returns the private key generated for name.
func (k *Keyring) Identity(name string) *age.X25519Identity {
	id, ok := k.keys[name]
	require.True(k.t, ok, "no key generated for %s", name)
	return id
}

// ProtectIdentity rewrites the local identity file as a scrypt-encrypted,
// armored age file unlocked by passphrase.
func (k *Keyring) ProtectIdentity(passphrase string) {
	k.t.Helper()

	recipient, err := age.NewScryptRecipient(passphrase)
	require.NoError(k.t, err)
	recipient.SetWorkFactor(10)

	var buf bytes.Buffer
	armored := armor.NewWriter(&buf)
	w, err := age.Encrypt(armored, recipient)
	require.NoError(k.t, err)
	_, err = w.Write([]byte(k.keys[k.Local].String() + "\n"))
	require.NoError(k.t, err)
	require.NoError(k.t, w.Close())
	require.NoError(k.t, armored.Close())

	require.NoError(k.t, os.WriteFile(k.keychain.IdentityPath(), buf.Bytes(), 0600))
}

// DecryptAs decrypts armored ciphertext with name's private key.
func (k *Keyring) DecryptAs(name string, ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(ciphertext)), k.Identity(name))
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
