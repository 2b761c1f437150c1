package css

import (
	"context"
	"sort"
	"sync"

	zerrors "github.com/zzenonn/chunkplace/internal/errors"
)

// MemoryStore is an in-process MetadataStore.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	children map[string]map[string]struct{}
}

var _ MetadataStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store holding only the root node.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   map[string]string{Root: ""},
		children: map[string]map[string]struct{}{},
	}
}

// Exists reports whether path is present.
func (m *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	if err := Validate(path); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.values[path]
	return ok, nil
}

// Read returns the value at path.
func (m *MemoryStore) Read(_ context.Context, path string) (string, error) {
	if err := Validate(path); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[path]
	if !ok {
		return "", zerrors.NotFound(path)
	}
	return v, nil
}

// Children returns the sorted child names of path.
func (m *MemoryStore) Children(_ context.Context, path string) ([]string, error) {
	if err := Validate(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.values[path]; !ok {
		return nil, zerrors.NotFound(path)
	}
	names := make([]string, 0, len(m.children[path]))
	for name := range m.children[path] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Write stores value at path and creates missing parents as null nodes.
func (m *MemoryStore) Write(_ context.Context, path, value string) error {
	if err := Validate(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range append(Ancestors(path), path) {
		if _, ok := m.values[p]; !ok {
			m.values[p] = ""
			m.link(p)
		}
	}
	m.values[path] = value
	return nil
}

// Len returns the number of nodes, root included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (m *MemoryStore) link(path string) {
	if path == Root {
		return
	}
	parent := Parent(path)
	set, ok := m.children[parent]
	if !ok {
		set = make(map[string]struct{})
		m.children[parent] = set
	}
	set[Base(path)] = struct{}{}
}
