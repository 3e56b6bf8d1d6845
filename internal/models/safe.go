package models

import (
	"errors"
	"fmt"
	"sort"
)

// Blob store backends a safe can point at.
const (
	BackendS3       = "s3"
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
	BackendLocal    = "local"
)

// IsKnownBackend reports whether name is a supported backend.
func IsKnownBackend(name string) bool {
	switch name {
	case BackendS3, BackendDynamoDB, BackendSQLite, BackendLocal:
		return true
	}
	return false
}

// SafeDescriptor holds the connection credentials of one named safe.
// Descriptors are replaced, never edited in place.
type SafeDescriptor struct {
	Name          string `json:"-"`
	AccessKey     string `json:"accessKey"`
	SecretKey     string `json:"secretKey"`
	ContainerName string `json:"containerName"`

	// Optional overrides of the application-wide store settings.
	Backend  string `json:"backend,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Validate checks that the descriptor is complete.
func (d SafeDescriptor) Validate() error {
	if d.Name == "" {
		return errors.New("safe name is required")
	}
	if d.AccessKey == "" {
		return fmt.Errorf("safe %s: access key is required", d.Name)
	}
	if d.SecretKey == "" {
		return fmt.Errorf("safe %s: secret key is required", d.Name)
	}
	if d.ContainerName == "" {
		return fmt.Errorf("safe %s: container name is required", d.Name)
	}
	if d.Backend != "" && !IsKnownBackend(d.Backend) {
		return fmt.Errorf("safe %s: unknown backend %q", d.Name, d.Backend)
	}
	return nil
}

// Registry is the set of named safes plus the active selection.
type Registry struct {
	Safes       map[string]SafeDescriptor `json:"safes"`
	CurrentSafe string                    `json:"currentSafe"`
}

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return Registry{Safes: make(map[string]SafeDescriptor)}
}

// Names returns the registered safe names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r.Safes))
	for name := range r.Safes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every descriptor and that CurrentSafe, if set, is registered.
func (r Registry) Validate() error {
	if err := r.ValidateSafes(); err != nil {
		return err
	}
	if r.CurrentSafe != "" {
		if _, ok := r.Safes[r.CurrentSafe]; !ok {
			return &UnknownSafeError{Name: r.CurrentSafe}
		}
	}
	return nil
}

// ValidateSafes checks every descriptor but not the selection.
func (r Registry) ValidateSafes() error {
	for name, safe := range r.Safes {
		if safe.Name != name {
			return fmt.Errorf("safe %q registered under name %q", safe.Name, name)
		}
		if err := safe.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the registry.
func (r Registry) Clone() Registry {
	out := Registry{
		Safes:       make(map[string]SafeDescriptor, len(r.Safes)),
		CurrentSafe: r.CurrentSafe,
	}
	for name, safe := range r.Safes {
		out.Safes[name] = safe
	}
	return out
}

// ConfigRecord is the single persisted source of truth.
type ConfigRecord struct {
	Identity          string
	UseAgentForCrypto bool
	Registry          Registry
}

// NewConfigRecord returns a record with an empty registry.
func NewConfigRecord(identity string, useAgent bool) *ConfigRecord {
	return &ConfigRecord{
		Identity:          identity,
		UseAgentForCrypto: useAgent,
		Registry:          NewRegistry(),
	}
}

// Validate checks the identity and the registry invariants.
func (c *ConfigRecord) Validate() error {
	if err := ValidateIdentity(c.Identity); err != nil {
		return err
	}
	return c.Registry.Validate()
}

// ValidateStored checks a record read from disk. A selection naming a safe
// that is not registered is tolerated here and reported when the current
// safe is resolved.
func (c *ConfigRecord) ValidateStored() error {
	if err := ValidateIdentity(c.Identity); err != nil {
		return err
	}
	return c.Registry.ValidateSafes()
}

// ConfigBody is the JSON document encrypted inside the config envelope.
type ConfigBody struct {
	Identity    string                    `json:"identity"`
	Safes       map[string]SafeDescriptor `json:"safes"`
	CurrentSafe string                    `json:"currentSafe"`
}

// Body converts the record to its encrypted JSON form. UseAgentForCrypto
// travels in the plaintext envelope instead.
func (c *ConfigRecord) Body() ConfigBody {
	safes := make(map[string]SafeDescriptor, len(c.Registry.Safes))
	for name, safe := range c.Registry.Safes {
		safes[name] = safe
	}
	return ConfigBody{
		Identity:    c.Identity,
		Safes:       safes,
		CurrentSafe: c.Registry.CurrentSafe,
	}
}

// Record rebuilds a ConfigRecord from its body. Descriptor names come from
// the map keys.
func (b ConfigBody) Record(useAgent bool) *ConfigRecord {
	record := NewConfigRecord(b.Identity, useAgent)
	for name, safe := range b.Safes {
		safe.Name = name
		record.Registry.Safes[name] = safe
	}
	record.Registry.CurrentSafe = b.CurrentSafe
	return record
}
