package routing

import (
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
)

// DefaultCacheSize is the number of core_ids kept by CachedResolver.
const DefaultCacheSize = 4096

// CachedResolver memoises an inner resolver by core_id.
// The inner resolver must depend on core_id only, as RuleResolver does.
type CachedResolver struct {
	inner Resolver
	cache *lru.Cache[string, []string]
}

// NewCachedResolver wraps inner with an LRU cache of the given size.
func NewCachedResolver(inner Resolver, size int) (*CachedResolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("create resolver cache: %w", err)
	}

	return &CachedResolver{
		inner: inner,
		cache: cache,
	}, nil
}

// Resolve returns a copy of the cached groups, resolving on a miss.
// Errors are never cached.
func (c *CachedResolver) Resolve(record *domain.Record) ([]string, error) {
	if err := validate(record); err != nil {
		return nil, err
	}

	if groups, ok := c.cache.Get(record.CoreID); ok {
		return slices.Clone(groups), nil
	}

	groups, err := c.inner.Resolve(record)
	if err != nil {
		return nil, err
	}

	c.cache.Add(record.CoreID, slices.Clone(groups))

	return groups, nil
}

// Len returns the number of cached entries.
func (c *CachedResolver) Len() int {
	return c.cache.Len()
}
