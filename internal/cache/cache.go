// Package cache provides the device-group result cache used by the
// device-context strategy to look up sibling mappings. Entries have one
// explicit schema, validated at the write boundary: a malformed group is
// rejected with a validation error instead of being repaired at read time.
// The cache owns its eviction policy (size plus TTL) and its lifecycle is
// tied to the task run that creates it, not ambient package state.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"enmap/internal/logging"
	"enmap/internal/types"
)

// DeviceGroup is the one shape cached values take.
type DeviceGroup struct {
	DeviceType string
	DeviceID   string
	Results    []types.MappingResult
	UpdatedAt  time.Time
}

type entry struct {
	key     string
	group   DeviceGroup
	element *list.Element
	addedAt time.Time
}

// Cache is a bounded TTL cache keyed by device group key.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // front = oldest
	maxEntries int
	ttl        time.Duration

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache bounded to maxEntries with the given TTL.
// maxEntries <= 0 defaults to 1024; ttl <= 0 disables expiry.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// validate rejects malformed groups before they reach storage. The upstream
// producer is the bug, not the cache, so the error names what is wrong.
func validate(key string, g DeviceGroup) error {
	if key == "" {
		return &types.ValidationError{Field: "cache.key", Reason: "empty key"}
	}
	if g.DeviceType == "" {
		return &types.ValidationError{Field: "cache.group.deviceType", Reason: "empty device type"}
	}
	if g.Results == nil {
		return &types.ValidationError{Field: "cache.group.results", Reason: "nil results slice"}
	}
	for i, r := range g.Results {
		if r.Status == "" {
			return &types.ValidationError{Field: "cache.group.results", Reason: fmt.Sprintf("result without status at index %d", i)}
		}
	}
	return nil
}

// Put stores a group under key, replacing any previous entry.
func (c *Cache) Put(key string, g DeviceGroup) error {
	if err := validate(key, g); err != nil {
		logging.StoreDebug("cache rejected malformed group for %q: %v", key, err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, g)
	return nil
}

func (c *Cache) putLocked(key string, g DeviceGroup) {
	g.UpdatedAt = time.Now()

	if e, ok := c.entries[key]; ok {
		e.group = g
		e.addedAt = time.Now()
		c.order.MoveToBack(e.element)
		return
	}

	e := &entry{key: key, group: g, addedAt: time.Now()}
	e.element = c.order.PushBack(e)
	c.entries[key] = e

	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

// Get returns the group for key if present and unexpired.
// The returned group is a copy; callers cannot mutate the cached value.
func (c *Cache) Get(key string) (DeviceGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return DeviceGroup{}, false
	}
	if c.ttl > 0 && time.Since(e.addedAt) > c.ttl {
		c.removeLocked(e)
		c.misses++
		return DeviceGroup{}, false
	}

	c.hits++
	g := e.group
	g.Results = make([]types.MappingResult, len(e.group.Results))
	copy(g.Results, e.group.Results)
	return g, true
}

// Append adds one result to the group under key, creating the group when
// absent. This is the write path the orchestrator uses as points complete;
// the lookup-append-store runs as one critical section so concurrent
// appends to the same device key never lose each other's results.
func (c *Cache) Append(key string, deviceType, deviceID string, r types.MappingResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := DeviceGroup{DeviceType: deviceType, DeviceID: deviceID, Results: []types.MappingResult{}}
	if e, ok := c.entries[key]; ok {
		if c.ttl > 0 && time.Since(e.addedAt) > c.ttl {
			c.removeLocked(e)
		} else {
			g = e.group
		}
	}
	g.Results = append(g.Results, r)

	if err := validate(key, g); err != nil {
		logging.StoreDebug("cache rejected malformed group for %q: %v", key, err)
		return err
	}
	c.putLocked(key, g)
	return nil
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss/eviction counters.
func (c *Cache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// Clear drops all entries. Called when the owning task run finishes.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order.Init()
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.removeLocked(front.Value.(*entry))
	c.evictions++
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
