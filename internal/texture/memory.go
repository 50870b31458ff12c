package texture

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemScheme prefixes references to resources held in a MemStore.
const MemScheme = "mem://"

// MemStore keeps uploaded resources in memory for the session, giving
// them a stable reference the Fetcher can resolve.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]Resource
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]Resource)}
}

// Put stores a resource and returns its reference.
func (m *MemStore) Put(res Resource) string {
	ref := MemScheme + uuid.NewString()
	m.mu.Lock()
	m.items[ref] = res
	m.mu.Unlock()
	return ref
}

// Get returns the resource behind ref.
func (m *MemStore) Get(ref string) (Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.items[ref]
	return res, ok
}

func isMem(ref string) bool {
	return strings.HasPrefix(ref, MemScheme)
}
