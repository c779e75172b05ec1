package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

const (
	cacheKeyPrefix     = "zones:product:"
	cacheGenerationKey = "zones:generation"
)

// CachedLookup keeps zone lookups in Redis for ttl. Entries are keyed by a
// generation counter that Invalidate bumps, so a zone change hides every
// entry written before it, including ones still being filled. Redis failures
// fall through to the wrapped lookup; concurrent misses for one product share
// a single upstream call.
type CachedLookup struct {
	next   ZoneLookup
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func NewCachedLookup(next ZoneLookup, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedLookup {
	return &CachedLookup{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(generation int64, productID string) string {
	return cacheKeyPrefix + strconv.FormatInt(generation, 10) + ":" + productID
}

func (c *CachedLookup) LookupZones(ctx context.Context, productID string) ([]domain.DeliveryZone, error) {
	generation, err := c.client.Get(ctx, cacheGenerationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("zone cache unavailable", "error", err, "product_id", productID)
		return c.next.LookupZones(ctx, productID)
	}
	key := cacheKey(generation, productID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var zones []domain.DeliveryZone
		if jsonErr := json.Unmarshal(data, &zones); jsonErr == nil {
			return zones, nil
		}
		c.logger.Warn("discarding unreadable cached zones", "product_id", productID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("zone cache unavailable", "error", err, "product_id", productID)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		zones, err := c.next.LookupZones(ctx, productID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, zones)
		return zones, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.DeliveryZone), nil
}

// Invalidate retires every cached lookup. Old entries are left to expire.
func (c *CachedLookup) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, cacheGenerationKey).Err(); err != nil {
		return fmt.Errorf("%w: invalidate zone cache: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func (c *CachedLookup) store(ctx context.Context, key string, zones []domain.DeliveryZone) {
	data, err := json.Marshal(zones)
	if err != nil {
		c.logger.Warn("failed to encode zones for cache", "error", err, "key", key)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache zones", "error", err, "key", key)
	}
}

// ZoneStore is a zone source that also serves the admin surface.
type ZoneStore interface {
	ZoneLookup
	ListAll(ctx context.Context) ([]domain.DeliveryZone, error)
	SetActive(ctx context.Context, zoneID string, active bool) error
}

// CachedStore reads through the cache and invalidates it on every zone change.
type CachedStore struct {
	store ZoneStore
	cache *CachedLookup
}

func NewCachedStore(store ZoneStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		store: store,
		cache: NewCachedLookup(store, client, ttl, logger),
	}
}

func (s *CachedStore) LookupZones(ctx context.Context, productID string) ([]domain.DeliveryZone, error) {
	return s.cache.LookupZones(ctx, productID)
}

func (s *CachedStore) ListAll(ctx context.Context) ([]domain.DeliveryZone, error) {
	return s.store.ListAll(ctx)
}

// SetActive writes through to the store and then invalidates the cache. A
// failed invalidation is reported so the caller can retry the change.
func (s *CachedStore) SetActive(ctx context.Context, zoneID string, active bool) error {
	if err := s.store.SetActive(ctx, zoneID, active); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx)
}
