package spec

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Registry resolves protocol names to specifications.
//
// The table is immutable between reloads. Replace swaps in a whole new
// table atomically, so Lookup never synchronizes and never observes a
// half-built table.
type Registry struct {
	table atomic.Pointer[map[string]*ProtocolSpec]
}

// NewRegistry creates a registry holding the given specs.
// Each spec is validated; duplicates by name are rejected.
func NewRegistry(specs ...*ProtocolSpec) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(specs); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup returns the spec for name, or ErrSpecNotFound.
// Safe for unsynchronized concurrent use.
func (r *Registry) Lookup(name string) (*ProtocolSpec, error) {
	table := r.table.Load()
	if table == nil {
		return nil, fmt.Errorf("%w: %q", ErrSpecNotFound, name)
	}
	s, ok := (*table)[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSpecNotFound, name)
	}
	return s, nil
}

// Names returns the registered protocol names, sorted.
func (r *Registry) Names() []string {
	table := r.table.Load()
	if table == nil {
		return nil
	}
	names := make([]string, 0, len(*table))
	for name := range *table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace validates specs and swaps in a new table.
// Existing *ProtocolSpec values handed out by Lookup stay valid; they are
// never mutated in place.
func (r *Registry) Replace(specs []*ProtocolSpec) error {
	table := make(map[string]*ProtocolSpec, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := table[s.Name]; dup {
			return fmt.Errorf("%w: duplicate protocol %q", ErrInvalidSpec, s.Name)
		}
		table[s.Name] = s
	}
	r.table.Store(&table)
	return nil
}
