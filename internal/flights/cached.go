package flights

import (
	"context"
	"log/slog"

	"github.com/neexbeast/mystery-trip/internal/destination"
)

// Lookup is satisfied by Client and CachedLookup.
type Lookup interface {
	GetOffers(ctx context.Context, q Query) ([]destination.FlightOption, error)
}

// offerCache is the interface satisfied by cache.OfferCache.
type offerCache interface {
	Get(ctx context.Context, key string) ([]destination.FlightOption, error)
	Set(ctx context.Context, key string, offers []destination.FlightOption) error
}

// CachedLookup serves repeated queries from a cache and falls through to the
// wrapped Lookup on a miss. Cache failures never fail the lookup.
type CachedLookup struct {
	next  Lookup
	cache offerCache
	log   *slog.Logger
}

// NewCachedLookup wraps next with cache.
func NewCachedLookup(next Lookup, cache offerCache, log *slog.Logger) *CachedLookup {
	return &CachedLookup{next: next, cache: cache, log: log}
}

func (c *CachedLookup) GetOffers(ctx context.Context, q Query) ([]destination.FlightOption, error) {
	key := q.Key()

	cached, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("offer cache get failed", "key", key, "err", err)
	}
	if cached != nil {
		return cached, nil
	}

	offers, err := c.next.GetOffers(ctx, q)
	if err != nil {
		return nil, err
	}

	// Empty results are not cached so a later run can pick up new fares.
	if len(offers) > 0 {
		if err := c.cache.Set(ctx, key, offers); err != nil {
			c.log.Warn("offer cache set failed", "key", key, "err", err)
		}
	}

	return offers, nil
}
