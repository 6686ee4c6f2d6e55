package rollup

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/biometrics/internal/domain"
)

type cacheEntry struct {
	expiresAt time.Time
	value     []domain.DailySummary
}

// viewCache memoises the summaries behind a view for a TTL and collapses
// concurrent loads of the same key. A nil cache always reloads.
type viewCache struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	entries    map[string]cacheEntry
	generation uint64

	sf singleflight.Group
}

func newViewCache(ttl time.Duration, now func() time.Time) *viewCache {
	if ttl <= 0 {
		return nil
	}
	return &viewCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

// clear drops every entry. Loads already in flight are not stored.
func (c *viewCache) clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.generation++
	c.mu.Unlock()
}

func (c *viewCache) lookup(key string) ([]domain.DailySummary, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if ok && c.now().Before(entry.expiresAt) {
		return entry.value, c.generation, true
	}
	return nil, c.generation, false
}

func (c *viewCache) get(key string, fn func() ([]domain.DailySummary, error)) ([]domain.DailySummary, error) {
	if c == nil {
		return fn()
	}
	if value, _, ok := c.lookup(key); ok {
		return value, nil
	}

	value, err, _ := c.sf.Do(key, func() (any, error) {
		cached, gen, ok := c.lookup(key)
		if ok {
			return cached, nil
		}

		v, err := fn()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if gen == c.generation {
			c.entries[key] = cacheEntry{expiresAt: c.now().Add(c.ttl), value: v}
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]domain.DailySummary), nil
}
