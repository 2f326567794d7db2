package propagation

import (
	"context"
	"sync"
	"time"
)

// dynamicCapCache memoizes the per-tenant edge count used to derive the
// neighbor fan-out cap, per spec §4.C/§5: "Cache the tenant-wide edge count
// for 5 minutes to avoid O(N) counts on every broadcast." A brief race
// returning a stale cap is explicitly harmless per spec §5, so a plain
// mutex-guarded map serves; no library is warranted for a single-field,
// read-mostly cache this small.
type dynamicCapCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]capEntry
}

type capEntry struct {
	cap       int
	expiresAt time.Time
}

func newDynamicCapCache(ttl time.Duration) *dynamicCapCache {
	return &dynamicCapCache{ttl: ttl, entries: make(map[string]capEntry)}
}

// dynamicCap returns the current neighbor fan-out cap for tenant:
// clamp(total_tenant_edges / 10, 20, 50), refreshed from the store at most
// once per TTL.
func (c *Controller) dynamicCap(ctx context.Context, tenant string) (int, error) {
	cache := c.capCache
	now := c.clock()

	cache.mu.Lock()
	entry, ok := cache.entries[tenant]
	cache.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.cap, nil
	}

	count, err := c.store.CountEdges(ctx, tenant)
	if err != nil {
		return 0, err
	}
	limit := count / dynamicCapDivisor
	if limit < dynamicCapMin {
		limit = dynamicCapMin
	}
	if limit > dynamicCapMax {
		limit = dynamicCapMax
	}

	cache.mu.Lock()
	cache.entries[tenant] = capEntry{cap: limit, expiresAt: now.Add(cache.ttl)}
	cache.mu.Unlock()

	return limit, nil
}
