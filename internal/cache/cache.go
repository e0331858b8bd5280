// Package cache provides the best-effort read-through cache that fronts the
// timestamp store and the artifact repository. Entries carry a fixed TTL and
// are invalidated synchronously on every write path. The store must remain
// correct with no cache at all: every method on a nil *Cache is a safe no-op
// miss.
package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Key conventions shared by the engine and the server.
const (
	TimestampKeyPrefix = "scope_timestamp:"
	AnalysisKeyPrefix  = "analysis:"
	SearchKeyPrefix    = "search:"
)

// TimestampKey returns the cache key for a scope's effective timestamp.
func TimestampKey(scopePath string) string {
	return TimestampKeyPrefix + scopePath
}

// AnalysisKey returns the cache key for an artifact read.
func AnalysisKey(projectID, scopePath string) string {
	if projectID == "" {
		projectID = "default"
	}
	return fmt.Sprintf("%s%s:%s", AnalysisKeyPrefix, projectID, scopePath)
}

// Fault is a cache-layer failure. Callers log it and fall back to the
// store; it is never propagated as an operation error. The distinct type
// lets callers tell the cache path apart from a persistence fault.
type Fault struct {
	Op  string
	Key string
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("cache %s %s: %v", f.Op, f.Key, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is an in-process TTL cache with JSON-serialized values.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time

	hits   int64
	misses int64
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the cache's time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Get unmarshals the entry for key into dest. Returns (false, nil) on a
// miss or expiry, and (false, *Fault) when the stored bytes cannot be
// decoded, which also evicts the poisoned entry.
func (c *Cache) Get(key string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if !ok || now.After(e.expiresAt) {
		c.mu.Lock()
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		c.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(e.data, dest); err != nil {
		c.Delete(key)
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return false, &Fault{Op: "get", Key: key, Err: err}
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return true, nil
}

// Set stores value under key with the configured TTL.
func (c *Cache) Set(key string, value any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return &Fault{Op: "set", Key: key, Err: err}
	}

	c.mu.Lock()
	c.entries[key] = entry{data: data, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes the given keys.
func (c *Cache) Delete(keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
}

// DeletePrefix removes every key starting with prefix and returns the count.
// Used for wildcard invalidation of derived search results.
func (c *Cache) DeletePrefix(prefix string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Stats reports hit/miss counters and the live entry count.
func (c *Cache) Stats() (hits, misses int64, size int) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.entries)
}

// HitRate returns hits/(hits+misses), or 0 with no traffic.
func (c *Cache) HitRate() float64 {
	hits, misses, _ := c.Stats()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
