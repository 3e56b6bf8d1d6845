package models

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// KeySeparator splits the recipient namespace from the document name.
const KeySeparator = "/"

// DocumentKey returns the blob key of a document encrypted for recipient.
// Every document lives under the identity it is encrypted for.
func DocumentKey(recipient, name string) string {
	return DocumentPrefix(recipient) + norm.NFC.String(name)
}

// DocumentPrefix returns the namespace prefix owned by identity.
func DocumentPrefix(identity string) string {
	return norm.NFC.String(identity) + KeySeparator
}

// DocumentName strips the identity prefix from a blob key. ok is false when
// key is outside the identity's namespace.
func DocumentName(identity, key string) (name string, ok bool) {
	prefix := DocumentPrefix(identity)
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, prefix), true
}

// ValidateIdentity rejects identities that would break key namespacing.
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("%w: identity is empty", ErrInvalidIdentity)
	}
	if strings.Contains(identity, KeySeparator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidIdentity, identity, KeySeparator)
	}
	if strings.TrimSpace(identity) != identity {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidIdentity, identity)
	}
	return nil
}

// ValidateDocumentName rejects empty names and names that escape the
// recipient prefix.
func ValidateDocumentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.HasPrefix(name, KeySeparator) {
		return fmt.Errorf("%w: %q starts with %q", ErrInvalidName, name, KeySeparator)
	}
	return nil
}
