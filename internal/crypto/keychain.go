package crypto

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"filippo.io/age/armor"
	"golang.org/x/crypto/ssh"

	"github.com/TheMichaelB/safe/internal/models"
)

const (
	// IdentityFile holds the local private key inside the keychain directory.
	IdentityFile = "identity"

	// RecipientsDir holds one <identity>.pub file per known recipient.
	RecipientsDir = "recipients"

	// IdentityEnv supplies the identity in agent mode without touching disk.
	IdentityEnv = "SAFE_IDENTITY"

	ageBinaryHeader = "age-encryption.org/"
	pemPrefix       = "-----BEGIN"
)

// RecipientInfo describes one public key in the keychain.
type RecipientInfo struct {
	Identity    string `json:"identity"`
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint"`
}

// Keychain maps identities to public keys and holds the local private key.
type Keychain struct {
	dir string
}

// NewKeychain opens a keychain directory.
func NewKeychain(dir string) *Keychain {
	return &Keychain{dir: dir}
}

// Dir returns the keychain directory.
func (k *Keychain) Dir() string {
	return k.dir
}

// IdentityPath returns the path of the local private key file.
func (k *Keychain) IdentityPath() string {
	return filepath.Join(k.dir, IdentityFile)
}

// RecipientPath returns the public key file for identity.
func (k *Keychain) RecipientPath(identity string) string {
	return filepath.Join(k.dir, RecipientsDir, identity+".pub")
}

// HasRecipient reports whether a public key exists for identity.
func (k *Keychain) HasRecipient(identity string) bool {
	if models.ValidateIdentity(identity) != nil {
		return false
	}
	_, err := os.Stat(k.RecipientPath(identity))
	return err == nil
}

// Recipients parses the public keys registered for identity. A file may
// hold several keys, one per line; '#' starts a comment.
func (k *Keychain) Recipients(identity string) ([]age.Recipient, error) {
	if err := models.ValidateIdentity(identity); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(k.RecipientPath(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownRecipient, identity)
		}
		return nil, fmt.Errorf("read recipient %s: %w", identity, err)
	}

	var recipients []age.Recipient
	for _, line := range keyLines(data) {
		recipient, err := parseRecipient(line)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", identity, err)
		}
		recipients = append(recipients, recipient)
	}

	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty key file", models.ErrUnknownRecipient, identity)
	}

	return recipients, nil
}

// List describes every recipient in the keychain, sorted by identity.
func (k *Keychain) List() ([]RecipientInfo, error) {
	entries, err := os.ReadDir(filepath.Join(k.dir, RecipientsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read recipients directory: %w", err)
	}

	var infos []RecipientInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".pub" {
			continue
		}
		identity := strings.TrimSuffix(name, ".pub")

		data, err := os.ReadFile(filepath.Join(k.dir, RecipientsDir, name))
		if err != nil {
			return nil, fmt.Errorf("read recipient %s: %w", identity, err)
		}

		for _, line := range keyLines(data) {
			infos = append(infos, describeKey(identity, line))
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Identity < infos[j].Identity })
	return infos, nil
}

// Identities unlocks the local private key. Passphrase-protected keys ask
// the session for the passphrase; the result is cached on the session.
func (k *Keychain) Identities(session *Session) ([]age.Identity, error) {
	if ids := session.cachedIdentities(); ids != nil {
		return ids, nil
	}

	var data []byte
	if env := os.Getenv(IdentityEnv); env != "" && session.UseAgent() {
		data = []byte(env)
	} else {
		var err error
		data, err = os.ReadFile(k.IdentityPath())
		if err != nil {
			return nil, fmt.Errorf("read identity: %w", err)
		}
	}

	ids, err := parseIdentities(data, session)
	if err != nil {
		return nil, err
	}

	session.cacheIdentities(ids)
	return ids, nil
}

// parseIdentities accepts plain age identity files, scrypt-protected age
// files and OpenSSH private keys.
func parseIdentities(data []byte, session *Session) ([]age.Identity, error) {
	trimmed := bytes.TrimSpace(data)

	switch {
	case bytes.HasPrefix(trimmed, []byte(armor.Header)) || bytes.HasPrefix(trimmed, []byte(ageBinaryHeader)):
		return unlockAgeIdentity(trimmed, session)
	case bytes.HasPrefix(trimmed, []byte(pemPrefix)):
		id, err := parseSSHIdentity(trimmed, session)
		if err != nil {
			return nil, err
		}
		return []age.Identity{id}, nil
	default:
		ids, err := age.ParseIdentities(bytes.NewReader(trimmed))
		if err != nil {
			return nil, fmt.Errorf("parse identity: %w", err)
		}
		return ids, nil
	}
}

func unlockAgeIdentity(data []byte, session *Session) ([]age.Identity, error) {
	passphrase, err := session.Passphrase()
	if err != nil {
		return nil, err
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("scrypt identity: %w", err)
	}

	var src io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, []byte(armor.Header)) {
		src = armor.NewReader(src)
	}

	plain, err := age.Decrypt(src, scrypt)
	if err != nil {
		session.Forget()
		return nil, &models.DecryptError{Reason: "unlock identity", Locked: true, Err: err}
	}

	keyData, err := io.ReadAll(plain)
	if err != nil {
		session.Forget()
		return nil, &models.DecryptError{Reason: "unlock identity", Locked: true, Err: err}
	}

	ids, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}
	return ids, nil
}

func parseSSHIdentity(pemBytes []byte, session *Session) (age.Identity, error) {
	key, err := ssh.ParseRawPrivateKey(pemBytes)

	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		passphrase, perr := session.Passphrase()
		if perr != nil {
			return nil, perr
		}
		key, err = ssh.ParseRawPrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
		if err != nil {
			session.Forget()
			return nil, &models.DecryptError{Reason: "unlock ssh identity", Locked: true, Err: err}
		}
	} else if err != nil {
		return nil, fmt.Errorf("parse ssh identity: %w", err)
	}

	var id age.Identity
	switch k := key.(type) {
	case *ed25519.PrivateKey:
		id, err = agessh.NewEd25519Identity(*k)
	case ed25519.PrivateKey:
		id, err = agessh.NewEd25519Identity(k)
	case *rsa.PrivateKey:
		id, err = agessh.NewRSAIdentity(k)
	default:
		return nil, fmt.Errorf("unsupported ssh key type %T", key)
	}
	if err != nil {
		return nil, fmt.Errorf("ssh identity: %w", err)
	}
	return id, nil
}

func parseRecipient(line string) (age.Recipient, error) {
	switch {
	case strings.HasPrefix(line, "age1"):
		r, err := age.ParseX25519Recipient(line)
		if err != nil {
			return nil, err
		}
		return r, nil
	case strings.HasPrefix(line, "ssh-"):
		return agessh.ParseRecipient(line)
	default:
		return nil, fmt.Errorf("unrecognised public key %q", truncate(line, 16))
	}
}

func describeKey(identity, line string) RecipientInfo {
	info := RecipientInfo{Identity: identity, Type: "unknown"}

	switch {
	case strings.HasPrefix(line, "age1"):
		info.Type = "age-x25519"
		info.Fingerprint = line
	case strings.HasPrefix(line, "ssh-"):
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err == nil {
			info.Type = pub.Type()
			info.Fingerprint = ssh.FingerprintSHA256(pub)
		}
	}

	return info
}

func keyLines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
