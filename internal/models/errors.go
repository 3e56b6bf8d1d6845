package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error output.
const (
	ErrCodeConfigCorrupt    = "CONFIG_CORRUPT"
	ErrCodeConfigMissing    = "CONFIG_MISSING"
	ErrCodeNoSafes          = "NO_SAFES_CONFIGURED"
	ErrCodeNoSafeSelected   = "NO_SAFE_SELECTED"
	ErrCodeDuplicateSafe    = "DUPLICATE_SAFE"
	ErrCodeUnknownSafe      = "UNKNOWN_SAFE"
	ErrCodeDecryption       = "DECRYPTION_ERROR"
	ErrCodeUnknownRecipient = "UNKNOWN_RECIPIENT"
	ErrCodeInputRequired    = "INPUT_REQUIRED"
	ErrCodeStorage          = "STORAGE_ERROR"
	ErrCodeUnknown          = "ERROR"
)

// Sentinel errors
var (
	ErrConfigNotFound    = errors.New("configuration not found")
	ErrConfigExists      = errors.New("configuration already exists")
	ErrConfigCorrupt     = errors.New("configuration is corrupt")
	ErrNoSafesConfigured = errors.New("no safes configured")
	ErrNoSafeSelected    = errors.New("no safe selected")
	ErrDuplicateSafe     = errors.New("safe already exists")
	ErrUnknownSafe       = errors.New("unknown safe")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrIdentityLocked    = errors.New("identity could not be unlocked")
	ErrUnknownRecipient  = errors.New("no public key for recipient")
	ErrInputRequired     = errors.New("input required")
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrInvalidName       = errors.New("invalid document name")
	ErrNotFound          = errors.New("blob not found")
)

// ConfigCorruptError reports a config file that exists but cannot be
// parsed or decrypted. The file is never removed automatically.
type ConfigCorruptError struct {
	Path string
	Err  error
}

func (e *ConfigCorruptError) Error() string {
	return fmt.Sprintf("config %s is corrupt: %v (remove it manually and run `safe init` to start over; registered safes will be lost)",
		e.Path, e.Err)
}

func (e *ConfigCorruptError) Unwrap() error {
	return e.Err
}

func (e *ConfigCorruptError) Is(target error) bool {
	return target == ErrConfigCorrupt
}

// DuplicateSafeError is returned when creating a safe whose name is taken.
type DuplicateSafeError struct {
	Name string
}

func (e *DuplicateSafeError) Error() string {
	return fmt.Sprintf("safe %q already exists", e.Name)
}

func (e *DuplicateSafeError) Is(target error) bool {
	return target == ErrDuplicateSafe
}

// UnknownSafeError is returned for operations on a safe that is not registered.
type UnknownSafeError struct {
	Name string
}

func (e *UnknownSafeError) Error() string {
	return fmt.Sprintf("unknown safe %q (run `safe safes show` to list safes)", e.Name)
}

func (e *UnknownSafeError) Is(target error) bool {
	return target == ErrUnknownSafe
}

// DecryptError represents a decryption failure. Locked is set when the
// local private key itself could not be unlocked, as opposed to a payload
// that does not decrypt.
type DecryptError struct {
	Reason string
	Locked bool
	Err    error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

func (e *DecryptError) Is(target error) bool {
	return target == ErrDecryptionFailed || (e.Locked && target == ErrIdentityLocked)
}

// Input fields the core may ask the interactive shell for.
const (
	InputIdentity   = "identity"
	InputUseAgent   = "use_agent"
	InputSafe       = "safe_credentials"
	InputPassphrase = "passphrase"
)

// InputRequiredError asks the caller to supply a missing value and retry.
// The core never reads from a terminal itself.
type InputRequiredError struct {
	Field  string
	Reason string
}

func (e *InputRequiredError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("input required: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("input required: %s", e.Field)
}

func (e *InputRequiredError) Is(target error) bool {
	return target == ErrInputRequired
}

// NeedInput builds an InputRequiredError.
func NeedInput(field, reason string) error {
	return &InputRequiredError{Field: field, Reason: reason}
}

// Code maps an error to its structured error code.
func Code(err error) string {
	var input *InputRequiredError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigCorrupt):
		return ErrCodeConfigCorrupt
	case errors.Is(err, ErrConfigNotFound):
		return ErrCodeConfigMissing
	case errors.Is(err, ErrNoSafesConfigured):
		return ErrCodeNoSafes
	case errors.Is(err, ErrNoSafeSelected):
		return ErrCodeNoSafeSelected
	case errors.Is(err, ErrDuplicateSafe):
		return ErrCodeDuplicateSafe
	case errors.Is(err, ErrUnknownSafe):
		return ErrCodeUnknownSafe
	case errors.Is(err, ErrDecryptionFailed):
		return ErrCodeDecryption
	case errors.Is(err, ErrUnknownRecipient):
		return ErrCodeUnknownRecipient
	case errors.As(err, &input):
		return ErrCodeInputRequired
	case errors.Is(err, ErrNotFound):
		return ErrCodeStorage
	default:
		return ErrCodeUnknown
	}
}

// Remedy returns the command a user should run to recover, if any.
func Remedy(err error) string {
	switch {
	case errors.Is(err, ErrNoSafesConfigured):
		return "safe safes create <name>"
	case errors.Is(err, ErrNoSafeSelected), errors.Is(err, ErrUnknownSafe):
		return "safe safes set <name>"
	case errors.Is(err, ErrConfigNotFound):
		return "safe init"
	default:
		return ""
	}
}
