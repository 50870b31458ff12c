package texture

import (
	"context"
	"image"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of decoded images kept in memory.
const DefaultCacheSize = 16

// DefaultFailureTTL is how long a failed load is served from the cache
// before the source is tried again.
const DefaultFailureTTL = 5 * time.Second

// Loader fetches and decodes a reference.
type Loader interface {
	Load(ctx context.Context, ref string) (*image.NRGBA, error)
}

// Resolver resolves a reference to a decoded image.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*image.NRGBA, error)
}

// Cache is a concurrency-safe LRU of decoded images. Failed loads are
// cached for failureTTL so a broken source is not refetched every frame.
// Forget clears an entry to allow an immediate retry.
type Cache struct {
	loader     Loader
	items      *lru.Cache[string, cacheEntry]
	failureTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]*call
}

type cacheEntry struct {
	img     *image.NRGBA
	err     error
	expires time.Time // zero for successful loads
}

type call struct {
	done  chan struct{}
	entry cacheEntry
}

// NewCache creates a cache holding up to size images.
func NewCache(loader Loader, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	items, _ := lru.New[string, cacheEntry](size) // only fails for size <= 0
	return &Cache{
		loader:     loader,
		items:      items,
		failureTTL: DefaultFailureTTL,
		now:        time.Now,
		inflight:   make(map[string]*call),
	}
}

// lookup returns the cached entry for ref unless it is an expired failure.
func (c *Cache) lookup(ref string) (cacheEntry, bool) {
	e, ok := c.items.Get(ref)
	if !ok {
		return cacheEntry{}, false
	}
	if e.err != nil && !c.now().Before(e.expires) {
		return cacheEntry{}, false
	}
	return e, true
}

// Resolve returns the decoded image for ref, loading it on first use.
// Concurrent callers for the same ref share one load.
func (c *Cache) Resolve(ctx context.Context, ref string) (*image.NRGBA, error) {
	// Fast path
	if e, ok := c.lookup(ref); ok {
		return e.img, e.err
	}

	c.mu.Lock()
	if e, ok := c.lookup(ref); ok {
		c.mu.Unlock()
		return e.img, e.err
	}
	if cl, ok := c.inflight[ref]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.entry.img, cl.entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[ref] = cl
	c.mu.Unlock()

	img, err := c.loader.Load(ctx, ref)
	cl.entry = cacheEntry{img: img, err: err}
	if err != nil {
		cl.entry.expires = c.now().Add(c.failureTTL)
	}

	c.mu.Lock()
	// A cancelled load says nothing about the resource.
	if ctx.Err() == nil {
		c.items.Add(ref, cl.entry)
	}
	delete(c.inflight, ref)
	c.mu.Unlock()
	close(cl.done)

	return img, err
}

// Put stores an already decoded image, e.g. a fresh upload.
func (c *Cache) Put(ref string, img *image.NRGBA) {
	c.items.Add(ref, cacheEntry{img: img})
}

// Forget drops ref from the cache.
func (c *Cache) Forget(ref string) {
	c.items.Remove(ref)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.items.Len()
}
