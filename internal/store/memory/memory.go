// Package memory provides an in-memory store.Store implementation.
// It backs unit tests and single-process development setups where
// durability is not required.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store is a thread-safe in-memory blob store.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // namespace -> key -> blob
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]map[string][]byte)}
}

// Put stores a copy of blob under (namespace, key).
func (s *Store) Put(_ context.Context, namespace, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.data[namespace] = ns
	}

	// Copy so later caller mutations cannot corrupt stored state.
	cp := make([]byte, len(blob))
	copy(cp, blob)
	ns[key] = cp
	return nil
}

// Get returns a copy of the blob stored under (namespace, key).
func (s *Store) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.data[namespace][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, true, nil
}

// Delete removes (namespace, key). Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[namespace], key)
	return nil
}

// List returns the keys in namespace with the given prefix, sorted.
func (s *Store) List(_ context.Context, namespace, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data[namespace] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of entries in a namespace. Test helper.
func (s *Store) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[namespace])
}
