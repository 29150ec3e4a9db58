// Package levelcache caches resolved inventory levels for a short, fixed TTL.
package levelcache

import (
	"context"
	"sync"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	"github.com/quipper/poc/stockproxy/pkg/platform"
)

// DefaultTTL is how long a stored result is served.
const DefaultTTL = 60_000 * time.Millisecond

// Cache stores inventory levels keyed by the raw variant identifier.
type Cache interface {
	// Get returns the levels stored under key if they are younger than the TTL.
	Get(ctx context.Context, key string) ([]platform.InventoryLevel, bool)
	// Put stores levels under key, replacing any previous entry and restarting its TTL.
	Put(ctx context.Context, key string, levels []platform.InventoryLevel) error
}

// entry stores a cached result and the time it was inserted.
type entry struct {
	levels   []platform.InventoryLevel
	storedAt time.Time
}

// Memory is a process-local Cache. Expired entries are reported absent but stay
// in the map until overwritten, or until Sweep runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a new in-memory cache. A non-positive ttl selects DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// WithClock replaces time.Now; intended for tests.
func (c *Memory) WithClock(now func() time.Time) *Memory {
	c.now = now
	return c
}

func (c *Memory) Get(ctx context.Context, key string) ([]platform.InventoryLevel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		return nil, false
	}
	return cloneLevels(e.levels), true
}

func (c *Memory) Put(ctx context.Context, key string, levels []platform.InventoryLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{levels: cloneLevels(levels), storedAt: c.now()}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep deletes expired entries and returns how many were removed.
func (c *Memory) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until Stop is called.
func (c *Memory) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					logger.Debug("levelcache: swept %d expired entries", n)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop ends the sweeper goroutine, if any.
func (c *Memory) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func cloneLevels(in []platform.InventoryLevel) []platform.InventoryLevel {
	if in == nil {
		return nil
	}
	out := make([]platform.InventoryLevel, len(in))
	copy(out, in)
	return out
}
