package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/zones"
)

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCachedLookup_FallsThroughWhenRedisIsDown(t *testing.T) {
	lookup := &mapLookup{zones: map[string][]domain.DeliveryZone{"apple": {square}}}
	cached := NewCachedLookup(lookup, unreachableRedis(t), time.Minute, discardLogger())

	zones, err := cached.LookupZones(context.Background(), "apple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(zones) != 1 || zones[0].ID != "square" {
		t.Errorf("expected zones from source, got %v", zones)
	}
	if lookup.calls["apple"] != 1 {
		t.Errorf("expected one source lookup, got %d", lookup.calls["apple"])
	}
}

func TestCachedLookup_PropagatesSourceErrors(t *testing.T) {
	lookup := &mapLookup{errs: map[string]error{"apple": domain.ErrUnavailable}}
	cached := NewCachedLookup(lookup, unreachableRedis(t), time.Minute, discardLogger())

	_, err := cached.LookupZones(context.Background(), "apple")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestCachedLookup_ServesRepeatLookupsFromRedis(t *testing.T) {
	server, client := newMiniRedis(t)
	lookup := &mapLookup{zones: map[string][]domain.DeliveryZone{"apple": {square}}}
	cached := NewCachedLookup(lookup, client, time.Minute, discardLogger())

	for range 3 {
		zones, err := cached.LookupZones(context.Background(), "apple")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(zones) != 1 || zones[0].ID != "square" {
			t.Fatalf("unexpected zones: %v", zones)
		}
	}
	if lookup.calls["apple"] != 1 {
		t.Errorf("expected one source lookup, got %d", lookup.calls["apple"])
	}
	if ttl := server.TTL(cacheKey(0, "apple")); ttl != time.Minute {
		t.Errorf("expected cached entry with a minute ttl, got %v", ttl)
	}
}

func TestCachedLookup_InvalidateHidesOldEntries(t *testing.T) {
	_, client := newMiniRedis(t)
	lookup := &mapLookup{zones: map[string][]domain.DeliveryZone{"apple": {square}}}
	cached := NewCachedLookup(lookup, client, time.Minute, discardLogger())
	ctx := context.Background()

	if _, err := cached.LookupZones(ctx, "apple"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cached.Invalidate(ctx); err != nil {
		t.Fatalf("failed to invalidate: %v", err)
	}
	if _, err := cached.LookupZones(ctx, "apple"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookup.calls["apple"] != 2 {
		t.Errorf("expected a fresh source lookup after invalidation, got %d calls", lookup.calls["apple"])
	}
}

func TestCachedLookup_InvalidateFailsWhenRedisIsDown(t *testing.T) {
	cached := NewCachedLookup(&mapLookup{}, unreachableRedis(t), time.Minute, discardLogger())

	if err := cached.Invalidate(context.Background()); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestCachedStore_DeactivationReachesEvaluator(t *testing.T) {
	_, client := newMiniRedis(t)
	zone := square
	zone.WarehouseID = "wh-1"
	source := zones.NewStaticSource(&zones.Catalog{
		Zones:    []domain.DeliveryZone{zone},
		Products: map[string][]string{"apple": {"wh-1"}},
	})
	store := NewCachedStore(source, client, time.Hour, discardLogger())
	evaluator := newTestEvaluator(t, store, Config{NoZonePolicy: PolicyUndeliverable})
	ctx := context.Background()
	cart := []domain.CartItem{{ProductID: "apple", Quantity: 1}}

	result, err := evaluator.Evaluate(ctx, cart, inside)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Deliverable) != 1 {
		t.Fatalf("expected apple deliverable before deactivation, got %+v", result)
	}

	if err := store.SetActive(ctx, "square", false); err != nil {
		t.Fatalf("failed to deactivate zone: %v", err)
	}

	result, err = evaluator.Evaluate(ctx, cart, inside)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Deliverable) != 0 || len(result.Undeliverable) != 1 {
		t.Errorf("expected apple undeliverable after deactivation, got %+v", result)
	}

	if err := store.SetActive(ctx, "missing", false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown zone, got %v", err)
	}
}
