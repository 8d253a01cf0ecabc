package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neexbeast/mystery-trip/internal/destination"
)

const defaultTTL = time.Hour

// OfferCache stores flight offers in Redis keyed by leg.
type OfferCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewOfferCache constructs an OfferCache. A non-positive ttl falls back to one hour.
func NewOfferCache(client *redis.Client, ttl time.Duration) *OfferCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &OfferCache{client: client, ttl: ttl}
}

func redisKey(key string) string {
	return "offers:" + key
}

// Get retrieves offers for key. Returns nil, nil on a cache miss.
func (c *OfferCache) Get(ctx context.Context, key string) ([]destination.FlightOption, error) {
	val, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get for %s: %w", key, err)
	}

	var offers []destination.FlightOption
	if err := json.Unmarshal(val, &offers); err != nil {
		return nil, fmt.Errorf("unmarshaling cached offers for %s: %w", key, err)
	}

	return offers, nil
}

// Set stores offers under key with the configured TTL. Empty input is a no-op.
func (c *OfferCache) Set(ctx context.Context, key string, offers []destination.FlightOption) error {
	if len(offers) == 0 {
		return nil
	}

	b, err := json.Marshal(offers)
	if err != nil {
		return fmt.Errorf("marshaling offers for %s: %w", key, err)
	}

	if err := c.client.Set(ctx, redisKey(key), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set for %s: %w", key, err)
	}

	return nil
}
