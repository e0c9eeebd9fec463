package deposit

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// DefaultCacheCapacity is the number of deposits kept in memory when no capacity
// is configured.
const DefaultCacheCapacity = 100

// EvictFunc is called with each deposit removed to make room for a new one. It runs
// after the cache lock is released.
type EvictFunc func(depositID string, state *ingest.IngestState)

type cacheEntry struct {
	id    string
	state *ingest.IngestState
}

// StateCache is a bounded map of deposit id to IngestState.
//
// Eviction is strictly by insertion order: when a Put of a new id exceeds capacity
// the earliest-inserted surviving entry is evicted, however recently it was read.
// A Put of an id already present replaces its state but keeps its position.
//
// Each call is atomic; sequences of calls are not.
type StateCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	onEvict  EvictFunc
}

// NewStateCache creates a cache holding at most capacity deposits.
func NewStateCache(capacity int, onEvict EvictFunc) (*StateCache, error) {
	if capacity < 1 {
		return nil, ingest.NewValidationError(fmt.Sprintf("cache capacity must be at least 1, got %d", capacity)).
			WithOperation("cache.new")
	}
	return &StateCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		onEvict:  onEvict,
	}, nil
}

// Put stores state under depositID, evicting the oldest entries if needed.
func (c *StateCache) Put(depositID string, state *ingest.IngestState) {
	var evicted []cacheEntry

	c.mu.Lock()
	if el, ok := c.entries[depositID]; ok {
		el.Value.(*cacheEntry).state = state
	} else {
		c.entries[depositID] = c.order.PushBack(&cacheEntry{id: depositID, state: state})
		for c.order.Len() > c.capacity {
			oldest := c.order.Front()
			entry := oldest.Value.(*cacheEntry)
			c.order.Remove(oldest)
			delete(c.entries, entry.id)
			evicted = append(evicted, *entry)
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, e := range evicted {
			c.onEvict(e.id, e.state)
		}
	}
}

// Get returns the state stored under depositID. Reads never affect eviction order.
func (c *StateCache) Get(depositID string) (*ingest.IngestState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[depositID]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry).state, true
}

// Remove drops depositID without invoking the eviction callback.
func (c *StateCache) Remove(depositID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[depositID]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.entries, depositID)
	return true
}

// Contains reports whether depositID is cached.
func (c *StateCache) Contains(depositID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[depositID]
	return ok
}

// IDs returns the cached deposit ids, oldest first.
func (c *StateCache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*cacheEntry).id)
	}
	return ids
}

func (c *StateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *StateCache) Capacity() int { return c.capacity }
