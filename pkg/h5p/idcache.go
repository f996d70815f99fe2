package h5p

import (
	"context"
	"sync"
)

// LibraryIDLookup resolves an installed library id.
type LibraryIDLookup interface {
	LibraryID(ctx context.Context, ref LibraryRef) (int64, error)
}

// LibraryIDCache memoizes library id lookups. It is owned by an engine and
// must be invalidated whenever a library is saved or deleted. Misses are
// never cached.
type LibraryIDCache struct {
	mu     sync.Mutex
	ids    map[LibraryRef]int64
	lookup LibraryIDLookup
}

func NewLibraryIDCache(lookup LibraryIDLookup) *LibraryIDCache {
	return &LibraryIDCache{ids: make(map[LibraryRef]int64), lookup: lookup}
}

// LibraryID returns the cached id of ref or asks the lookup.
func (c *LibraryIDCache) LibraryID(ctx context.Context, ref LibraryRef) (int64, error) {
	c.mu.Lock()
	id, ok := c.ids[ref]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := c.lookup.LibraryID(ctx, ref)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.ids[ref] = id
	c.mu.Unlock()
	return id, nil
}

// Invalidate forgets ref.
func (c *LibraryIDCache) Invalidate(ref LibraryRef) {
	c.mu.Lock()
	delete(c.ids, ref)
	c.mu.Unlock()
}
