package ancestry

import (
	"context"
	"sync"
)

// Cache maps project ids to resolved chains for the duration of one scan.
// The check-then-insert is synchronized per project id so that concurrent
// resolutions of the same project trigger at most one remote lookup.
type Cache struct {
	mu      sync.Mutex
	chains  map[string]Chain
	pending map[string]chan struct{}
}

// NewCache creates an empty run-scoped cache.
func NewCache() *Cache {
	return &Cache{
		chains:  make(map[string]Chain),
		pending: make(map[string]chan struct{}),
	}
}

// GetOrFetch returns the cached chain for projectID, fetching it at most
// once. Concurrent callers for the same project block until the first
// fetch completes. A failed fetch is not cached; the next caller retries.
func (c *Cache) GetOrFetch(ctx context.Context, projectID string, fetch func(ctx context.Context, projectID string) (Chain, error)) (Chain, error) {
	for {
		c.mu.Lock()
		if chain, ok := c.chains[projectID]; ok {
			c.mu.Unlock()
			return chain, nil
		}
		if wait, ok := c.pending[projectID]; ok {
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.pending[projectID] = done
		c.mu.Unlock()

		chain, err := fetch(ctx, projectID)

		c.mu.Lock()
		if err == nil {
			c.chains[projectID] = chain
		}
		delete(c.pending, projectID)
		close(done)
		c.mu.Unlock()
		return chain, err
	}
}

// Len returns the number of resolved projects.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chains)
}
