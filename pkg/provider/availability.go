package provider

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// AvailabilityCache memoizes probe outcomes per provider id so that ranking a task does
// not spawn a subprocess per provider on every message.
type AvailabilityCache struct {
	cache *cache.Cache
}

// NewAvailabilityCache returns a cache holding probe results for ttl. A zero ttl disables caching.
func NewAvailabilityCache(ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		return &AvailabilityCache{}
	}
	return &AvailabilityCache{cache: cache.New(ttl, 2*ttl)}
}

// IsAvailable returns the cached probe result for p, probing on a miss.
func (a *AvailabilityCache) IsAvailable(ctx context.Context, p Provider) bool {
	if a == nil || a.cache == nil {
		return p.IsAvailable(ctx)
	}
	if x, found := a.cache.Get(p.ID()); found {
		return x.(bool)
	}

	ok := p.IsAvailable(ctx)
	if ctx.Err() == nil {
		a.cache.Set(p.ID(), ok, cache.DefaultExpiration)
	}
	return ok
}

// Forget drops the cached result for id, forcing the next call to probe.
func (a *AvailabilityCache) Forget(id string) {
	if a == nil || a.cache == nil {
		return
	}
	a.cache.Delete(id)
}
