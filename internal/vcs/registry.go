package vcs

import (
	"fmt"
	"sort"
	"sync"
)

// OpenFunc opens an existing store at a repository root.
type OpenFunc func(root string) (Store, error)

// InitFunc creates a new store at root with a single root commit.
type InitFunc func(root string, author Identity) (Store, error)

// CreateFunc creates a new store at root without any commit. Replays from
// the ledger start from such a store.
type CreateFunc func(root string) (Store, error)

// Backend bundles the constructors of one store implementation.
// Implementations register themselves with the registry using Register().
type Backend struct {
	Open   OpenFunc
	Init   InitFunc
	Create CreateFunc
}

// registry maps store types to their constructors
var (
	registry      = make(map[Type]Backend)
	registryMutex sync.RWMutex
)

// Register registers a store implementation.
// This is called from init() functions in implementation packages.
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, vcs.Backend{Open: open, Init: initStore, Create: create})
//	}
func Register(t Type, b Backend) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if b.Open == nil || b.Init == nil || b.Create == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}

	registry[t] = b
}

// getBackend retrieves the backend for a store type.
func getBackend(t Type) (Backend, error) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	b, ok := registry[t]
	if !ok {
		return Backend{}, fmt.Errorf("%w: %s", ErrUnknownBackend, t)
	}
	return b, nil
}

// IsRegistered returns true if a backend is registered for the given type.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// RegisteredTypes returns all registered store types, sorted.
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// unregister removes a backend. Only tests use it.
func unregister(t Type) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	delete(registry, t)
}
