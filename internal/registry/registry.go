// Package registry manages the named safes held in the config record.
// Every mutation is validated first, applied to the in-memory record and
// then saved; if the save fails the in-memory change is undone.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
)

// Saver persists the whole config record.
type Saver interface {
	Save(ctx context.Context, record *models.ConfigRecord) error
}

// Registry wraps a loaded config record.
type Registry struct {
	mu     sync.Mutex
	record *models.ConfigRecord
	saver  Saver
	logger *events.Logger
}

// New creates a registry over record.
func New(record *models.ConfigRecord, saver Saver, logger *events.Logger) *Registry {
	if record.Registry.Safes == nil {
		record.Registry.Safes = make(map[string]models.SafeDescriptor)
	}
	return &Registry{
		record: record,
		saver:  saver,
		logger: logger.WithField("component", "registry"),
	}
}

// Record returns the underlying config record.
func (r *Registry) Record() *models.ConfigRecord {
	return r.record
}

// Create adds a safe and makes it current.
func (r *Registry) Create(ctx context.Context, desc models.SafeDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := desc.Validate(); err != nil {
		return err
	}
	if _, exists := r.record.Registry.Safes[desc.Name]; exists {
		return &models.DuplicateSafeError{Name: desc.Name}
	}

	err := r.mutate(ctx, func(reg *models.Registry) {
		reg.Safes[desc.Name] = desc
		reg.CurrentSafe = desc.Name
	})
	if err != nil {
		return fmt.Errorf("create safe %s: %w", desc.Name, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"safe":      desc.Name,
		"container": desc.ContainerName,
		"backend":   desc.Backend,
	}).Info("Created safe")
	return nil
}

// Delete removes a safe. Deleting the current safe leaves no safe selected,
// as does deleting any safe while the selection names an unregistered one.
func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.record.Registry.Safes[name]; !exists {
		return &models.UnknownSafeError{Name: name}
	}

	wasCurrent := r.record.Registry.CurrentSafe == name
	err := r.mutate(ctx, func(reg *models.Registry) {
		delete(reg.Safes, name)
		if _, ok := reg.Safes[reg.CurrentSafe]; !ok {
			reg.CurrentSafe = ""
		}
	})
	if err != nil {
		return fmt.Errorf("delete safe %s: %w", name, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"safe":        name,
		"was_current": wasCurrent,
	}).Info("Deleted safe")
	return nil
}

// Set selects the current safe.
func (r *Registry) Set(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.record.Registry.Safes[name]; !exists {
		return &models.UnknownSafeError{Name: name}
	}
	if r.record.Registry.CurrentSafe == name {
		return nil
	}

	err := r.mutate(ctx, func(reg *models.Registry) {
		reg.CurrentSafe = name
	})
	if err != nil {
		return fmt.Errorf("set safe %s: %w", name, err)
	}

	r.logger.WithField("safe", name).Info("Selected safe")
	return nil
}

// Show returns the registered safe names, sorted.
func (r *Registry) Show() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Registry.Names()
}

// Current returns the selected safe name, or "" if none is selected.
func (r *Registry) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Registry.CurrentSafe
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (models.SafeDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.record.Registry.Safes[name]
	if !ok {
		return models.SafeDescriptor{}, &models.UnknownSafeError{Name: name}
	}
	return desc, nil
}

// Resolve returns the descriptor of the current safe. An empty registry and
// an unset selection are distinct errors so the caller can name the fix.
func (r *Registry) Resolve() (models.SafeDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg := r.record.Registry
	if len(reg.Safes) == 0 {
		return models.SafeDescriptor{}, models.ErrNoSafesConfigured
	}
	if reg.CurrentSafe == "" {
		return models.SafeDescriptor{}, models.ErrNoSafeSelected
	}

	desc, ok := reg.Safes[reg.CurrentSafe]
	if !ok {
		return models.SafeDescriptor{}, &models.UnknownSafeError{Name: reg.CurrentSafe}
	}
	return desc, nil
}

// mutate applies change to a copy of the registry, saves it, and only then
// swaps it into the record.
func (r *Registry) mutate(ctx context.Context, change func(reg *models.Registry)) error {
	previous := r.record.Registry
	next := previous.Clone()
	change(&next)

	r.record.Registry = next
	if err := r.saver.Save(ctx, r.record); err != nil {
		r.record.Registry = previous
		r.logger.WithError(err).Warn("Save failed, registry change rolled back")
		return err
	}
	return nil
}
