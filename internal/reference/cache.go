package reference

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cacheName = "reference"

// CacheObserver receives cache hit/miss notifications
type CacheObserver interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// CachedProvider serves listings from a Redis hash and falls back to the
// wrapped provider on a miss. Redis failures never fail the load; they only
// bypass the cache.
type CachedProvider struct {
	inner    Provider
	client   redis.Cmdable
	key      string
	ttl      time.Duration
	observer CacheObserver
}

// NewCachedProvider wraps inner with a Redis cache stored under key
func NewCachedProvider(inner Provider, client redis.Cmdable, key string, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner:  inner,
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// SetObserver attaches a hit/miss observer
func (c *CachedProvider) SetObserver(o CacheObserver) {
	c.observer = o
}

// Listings returns cached listings when present, otherwise fetches and caches them
func (c *CachedProvider) Listings(ctx context.Context) ([]Listing, error) {
	cached, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", c.key).Msg("Reference cache read failed, bypassing cache")
		return c.inner.Listings(ctx)
	}

	if len(cached) > 0 {
		c.hit()
		listings := make([]Listing, 0, len(cached))
		for symbol, name := range cached {
			listings = append(listings, Listing{Symbol: symbol, Name: name})
		}
		sortListings(listings)
		return listings, nil
	}

	c.miss()
	listings, err := c.inner.Listings(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, listings)

	return listings, nil
}

func (c *CachedProvider) store(ctx context.Context, listings []Listing) {
	if len(listings) == 0 {
		return
	}

	sorted := make([]Listing, len(listings))
	copy(sorted, listings)
	sortListings(sorted)

	values := make([]interface{}, 0, len(sorted)*2)
	for _, l := range sorted {
		values = append(values, l.Symbol, l.Name)
	}

	if err := c.client.HSet(ctx, c.key, values...).Err(); err != nil {
		log.Warn().Err(err).Str("key", c.key).Msg("Reference cache write failed")
		return
	}
	if c.ttl > 0 {
		if err := c.client.Expire(ctx, c.key, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", c.key).Msg("Reference cache expiry failed")
		}
	}
}

func (c *CachedProvider) hit() {
	if c.observer != nil {
		c.observer.RecordCacheHit(cacheName)
	}
}

func (c *CachedProvider) miss() {
	if c.observer != nil {
		c.observer.RecordCacheMiss(cacheName)
	}
}

func sortListings(listings []Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].Symbol < listings[j].Symbol
	})
}
