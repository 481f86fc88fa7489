// Package cache provides the transient session cache: a fast, in-process
// holder of intermediate artifacts scoped to one editing session. Entries
// are volatile; they vanish on session end, explicit discard, or restart,
// and are never written to durable storage without an explicit commit.
package cache

import (
	"sync"
)

type cacheKey struct {
	session string
	kind    string
}

// entry tracks one artifact, including an in-flight population.
type entry struct {
	ready chan struct{}
	val   interface{}
	err   error
}

// Cache is the transient tier, keyed by (session, artifact kind).
// Per-key exclusion applies only during population; reads are lock-light.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*entry
}

// New creates an empty transient cache.
func New() *Cache {
	return &Cache{entries: make(map[cacheKey]*entry)}
}

// Get returns a cached artifact if present and fully populated.
func (c *Cache) Get(session, kind string) (interface{}, bool) {
	c.mu.Lock()
	e, ok := c.entries[cacheKey{session, kind}]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	<-e.ready
	if e.err != nil {
		return nil, false
	}
	return e.val, true
}

// Put stores an artifact unconditionally.
func (c *Cache) Put(session, kind string, val interface{}) {
	e := &entry{ready: make(chan struct{}), val: val}
	close(e.ready)

	c.mu.Lock()
	c.entries[cacheKey{session, kind}] = e
	c.mu.Unlock()
}

// GetOrPopulate returns the cached artifact, populating it with fn on a
// miss. Concurrent callers for the same key wait on a single population;
// a failed population is not cached, so the next caller retries.
func (c *Cache) GetOrPopulate(session, kind string, fn func() (interface{}, error)) (interface{}, error) {
	key := cacheKey{session, kind}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.ready
		if e.err == nil {
			return e.val, nil
		}
		// Fall through: the failed entry was removed by its populator;
		// try to become the new one.
		return c.GetOrPopulate(session, kind, fn)
	}

	e := &entry{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.val, e.err = fn()
	if e.err != nil {
		c.mu.Lock()
		// Only remove our own failed entry.
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	close(e.ready)

	return e.val, e.err
}

// Discard drops a single artifact.
func (c *Cache) Discard(session, kind string) {
	c.mu.Lock()
	delete(c.entries, cacheKey{session, kind})
	c.mu.Unlock()
}

// PurgeSession drops every artifact belonging to a session. Called when the
// session ends or is discarded.
func (c *Cache) PurgeSession(session string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if k.session == session {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of cached artifacts across all sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
