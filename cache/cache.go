// Package cache provides the short-lived read-through cache layered on
// top of the durable store. Entries expire after their TTL and are
// recomputed by the supplied loader on the next read; a background
// sweep evicts what nobody reads anymore.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type entry struct {
	data any
	at   time.Time
	ttl  time.Duration
}

func (e entry) fresh(now time.Time) bool {
	return now.Sub(e.at) < e.ttl
}

// Cache is safe for concurrent use. It implements contract.Worker: Run
// sweeps expired entries on a fixed interval.
type Cache struct {
	log           *slog.Logger
	sweepInterval time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

func New(log *slog.Logger, sweepInterval time.Duration) *Cache {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Cache{
		log:           log,
		sweepInterval: sweepInterval,
		entries:       make(map[string]entry),
	}
}

// GetCached returns the cached value for key if it is still fresh,
// otherwise invokes loader, stores the result with a new timestamp and
// returns it. A loader error is returned as-is and nothing is stored.
func GetCached[T any](c *Cache, key string, ttl time.Duration, loader func() (T, error)) (T, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && e.fresh(time.Now()) {
		return e.data.(T), nil
	}

	data, err := loader()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = entry{data: data, at: time.Now(), ttl: ttl}
	c.mu.Unlock()
	return data, nil
}

// Invalidate evicts every key sharing the given prefix. Called whenever
// an entity affecting a cached query is written.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run sweeps expired entries until the context is canceled.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	for key, e := range c.entries {
		if !e.fresh(now) {
			delete(c.entries, key)
		}
	}
	if evicted := before - len(c.entries); evicted > 0 {
		c.log.Debug("Cache sweep", "evicted", evicted, "remaining", len(c.entries))
	}
}
