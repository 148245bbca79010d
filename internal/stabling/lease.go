package stabling

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultLeaseTTL is the bay-lease cache's default entry lifetime,
// comfortably longer than a single real-time cycle so a repeated
// trigger within the same window still sees the prior run's
// assignments.
const DefaultLeaseTTL = 10 * time.Minute

// BayLeaseCache caches which trainset currently holds a bay lease, so
// a second stabling run within the same cycle window sees a
// consistent view without re-querying C1. Grounded on the teacher's
// internal/portfolio Manager, which wraps a *redis.Client the same
// way: an Addr-only client, a namespaced key, Get-then-fallback,
// best-effort Set.
type BayLeaseCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewBayLeaseCache dials a go-redis/v8 client against addr. An empty
// addr disables caching (Lease/Release become no-ops), matching the
// optional Redis wiring of C2's ingestion counters.
func NewBayLeaseCache(addr string, ttl time.Duration) *BayLeaseCache {
	if addr == "" {
		return &BayLeaseCache{}
	}
	return &BayLeaseCache{
		redis: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:   ttl,
	}
}

func (c *BayLeaseCache) key(bayID string) string {
	return "stabling:bay-lease:" + bayID
}

// Lease records that trainsetID holds bayID for the cache's TTL.
// Best-effort: a Redis error does not fail the stabling run, since the
// authoritative bay occupancy lives in C1.
func (c *BayLeaseCache) Lease(ctx context.Context, bayID, trainsetID string) {
	if c.redis == nil {
		return
	}
	c.redis.Set(ctx, c.key(bayID), trainsetID, c.ttl)
}

// Holder returns the trainset ID currently leasing bayID, if any.
func (c *BayLeaseCache) Holder(ctx context.Context, bayID string) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	val, err := c.redis.Get(ctx, c.key(bayID)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Release clears a bay's lease once its occupant has moved out.
func (c *BayLeaseCache) Release(ctx context.Context, bayID string) {
	if c.redis == nil {
		return
	}
	c.redis.Del(ctx, c.key(bayID))
}
