package session

import (
	"sync"
	"time"

	"github.com/pledgepool/pledge-api/internal/types"
)

// Cache is a read-through cache over a session list query. Callers pass
// the TTL explicitly; there is no module-global state.
type Cache struct {
	mu        sync.Mutex
	ttl       time.Duration
	fetch     func() ([]types.PledgeSession, error)
	cached    []types.PledgeSession
	fetchedAt time.Time
}

// NewCache creates a cache over the given fetch function.
func NewCache(ttl time.Duration, fetch func() ([]types.PledgeSession, error)) *Cache {
	return &Cache{
		ttl:   ttl,
		fetch: fetch,
	}
}

// Get returns the cached list, refreshing it from the store once the TTL
// has elapsed. A failed refresh is returned to the caller rather than
// serving stale data silently.
func (c *Cache) Get() ([]types.PledgeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.cached, nil
	}

	sessions, err := c.fetch()
	if err != nil {
		return nil, err
	}

	c.cached = sessions
	c.fetchedAt = time.Now()
	return sessions, nil
}

// Invalidate drops the cached list so the next Get hits the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}
