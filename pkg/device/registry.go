package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry errors.
var (
	// ErrDeviceNotFound indicates no device is registered under an id.
	ErrDeviceNotFound = errors.New("device not found")
)

// Registry owns the set of registered devices, keyed by device id.
// Safe for concurrent use. Descriptors are stored and returned as
// immutable snapshots; updates replace the stored descriptor.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Descriptor
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Descriptor)}
}

// Register validates the descriptor, assigns it a device id and stores it.
// Returns the assigned id.
func (r *Registry) Register(desc *Descriptor) (string, error) {
	if err := desc.Validate(); err != nil {
		return "", err
	}

	stored := desc.clone()
	stored.ID = uuid.NewString()
	if stored.Name == "" {
		stored.Name = stored.ID
	}

	r.mu.Lock()
	r.devices[stored.ID] = stored
	r.mu.Unlock()

	return stored.ID, nil
}

// Get returns the descriptor for a device id.
func (r *Registry) Get(id string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}
	return d, nil
}

// FindByAddress returns the first device whose address matches.
// Lets callers query by address when they hold no device id.
func (r *Registry) FindByAddress(address string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.devices {
		if d.Address == address {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: address %q", ErrDeviceNotFound, address)
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateAddress replaces the stored descriptor with one carrying the new
// address and port. Only address and port may change after registration.
func (r *Registry) UpdateAddress(id, address string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}

	updated := d.clone()
	updated.Address = address
	updated.Port = port
	if err := updated.Validate(); err != nil {
		return err
	}
	r.devices[id] = updated
	return nil
}

// Deregister removes a device.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}
	delete(r.devices, id)
	return nil
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
