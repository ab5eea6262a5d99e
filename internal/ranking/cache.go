package ranking

import (
	"container/list"
	"sync"
	"time"

	"github.com/aragora/aragora/internal/domain"
)

// CandidateCache bounds repeated RecentPositions lookups during
// flip-detection: the Debate Orchestrator re-queries the same agent's prior
// positions every round, and those priors don't change mid-round, so an
// LRU-evicted, TTL-expired cache in front of the query avoids hitting the
// Storage Adapter once per agent per round. Grounded on rag_storage.go's
// ad-hoc sort.Slice-plus-manual-limit result trimming, generalized here into
// a small reusable cache instead of repeating that trimming inline at every
// call site.
type CandidateCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key       string
	positions []domain.Position
	expiresAt time.Time
}

// NewCandidateCache constructs a cache holding at most capacity entries,
// each valid for ttl before a lookup is treated as a miss.
func NewCandidateCache(capacity int, ttl time.Duration) *CandidateCache {
	if capacity <= 0 {
		capacity = 128
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CandidateCache{
		ttl:      ttl,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached positions for key if present and not expired.
func (c *CandidateCache) Get(key string) ([]domain.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return entry.positions, true
}

// Set stores positions under key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *CandidateCache) Set(key string, positions []domain.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).positions = positions
		el.Value.(*cacheEntry).expiresAt = time.Now().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	entry := &cacheEntry{key: key, positions: positions, expiresAt: time.Now().Add(c.ttl)}
	el := c.ll.PushFront(entry)
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}
