package wallpaper

import (
	"errors"
	"image"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no entry has the requested ID.
var ErrNotFound = errors.New("wallpaper: entry not found")

// Seed is a built-in wallpaper available at startup.
type Seed struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// DefaultSeeds are the wallpapers a library starts with when nothing else is configured.
var DefaultSeeds = []Seed{
	{Name: "Cyber Samurai", Source: "https://images.unsplash.com/photo-1515405295579-ba7f9f92f413?q=80&w=1000&auto=format&fit=crop"},
	{Name: "Neon City", Source: "https://images.unsplash.com/photo-1570284613060-766c33850e00?q=80&w=1000&auto=format&fit=crop"},
	{Name: "Abstract Flow", Source: "https://images.unsplash.com/photo-1618005182384-a83a8bd57fbe?q=80&w=1000&auto=format&fit=crop"},
	{Name: "Mystic Peaks", Source: "https://images.unsplash.com/photo-1519681393784-d120267933ba?q=80&w=1000&auto=format&fit=crop"},
}

// Library is an ordered, concurrency-safe set of entries. Entries are never
// removed during a session; only their depth buffers are replaced.
type Library struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewLibrary creates a library holding one entry per seed, in seed order.
func NewLibrary(seeds []Seed) *Library {
	l := &Library{}
	for _, s := range seeds {
		l.entries = append(l.entries, &Entry{
			ID:     uuid.NewString(),
			Name:   s.Name,
			Source: s.Source,
		})
	}
	return l
}

// Add creates a new entry at the front of the library and returns a copy of it.
func (l *Library) Add(name, source string) Entry {
	e := &Entry{ID: uuid.NewString(), Name: name, Source: source}
	l.mu.Lock()
	l.entries = append([]*Entry{e}, l.entries...)
	l.mu.Unlock()
	return *e
}

// Get returns a copy of the entry with the given ID.
func (l *Library) Get(id string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.ID == id {
			return *e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// List returns copies of all entries, newest first.
func (l *Library) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// First returns the entry at the front of the library.
func (l *Library) First() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return *l.entries[0], true
}

// Len returns the number of entries.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// AttachDepth replaces the depth buffer of an entry.
func (l *Library) AttachDepth(id string, depth *image.Gray, source string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == id {
			e.Depth = depth
			e.DepthSource = source
			return *e, nil
		}
	}
	return Entry{}, ErrNotFound
}
