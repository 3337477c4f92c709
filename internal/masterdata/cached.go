package masterdata

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
)

// CachedLookup decorates a Lookup with a read-through JSON cache.
// Master data changes rarely relative to posting volume, so a short TTL
// keeps lookups cheap without an invalidation protocol.
type CachedLookup struct {
	next  Lookup
	cache *cache.JSONCache
}

// NewCachedLookup wraps next with the given cache.
func NewCachedLookup(next Lookup, c *cache.JSONCache) *CachedLookup {
	return &CachedLookup{next: next, cache: c}
}

func (l *CachedLookup) Account(ctx context.Context, id string) (Account, error) {
	var a Account
	err := l.cache.Fetch(ctx, fmt.Sprintf("md:account:%s", id), &a, func(ctx context.Context) (any, error) {
		return l.next.Account(ctx, id)
	})
	return a, err
}

func (l *CachedLookup) Party(ctx context.Context, kind PartyKind, id string) (Party, error) {
	var p Party
	err := l.cache.Fetch(ctx, fmt.Sprintf("md:party:%s:%s", kind, id), &p, func(ctx context.Context) (any, error) {
		return l.next.Party(ctx, kind, id)
	})
	return p, err
}
