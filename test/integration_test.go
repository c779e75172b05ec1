//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/eligibility"
	"github.com/joao-fontenele/bigbestmart/internal/email"
	"github.com/joao-fontenele/bigbestmart/internal/identity"
	"github.com/joao-fontenele/bigbestmart/internal/messaging"
	"github.com/joao-fontenele/bigbestmart/internal/orders"
	"github.com/joao-fontenele/bigbestmart/internal/statusclient"
	"github.com/joao-fontenele/bigbestmart/internal/statussync"
	"github.com/joao-fontenele/bigbestmart/internal/worker"
	"github.com/joao-fontenele/bigbestmart/internal/zones"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrder(customerID string) *domain.Order {
	return &domain.Order{
		CustomerID: customerID,
		Items: []domain.OrderItem{
			{ProductID: "apple", Quantity: 2, Price: 150},
			{ProductID: "banana", Quantity: 1, Price: 90},
		},
		Destination: domain.Coordinate{Latitude: 40.75, Longitude: -73.98},
	}
}

func TestOrderStatusLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := DBWithSchema(pg.ConnStr, "orders")
	if err != nil {
		t.Fatalf("failed to open orders DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := orders.NewOrderRepository(db)
	store, err := orders.NewStore(repo, nil, discardLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	created, err := store.Create(ctx, newOrder("cust-1"))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	if created.Total != 390 {
		t.Fatalf("expected total 390, got %d", created.Total)
	}

	for _, next := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusPacked} {
		if _, err := store.SetStatus(ctx, created.ID, next, "admin:ops"); err != nil {
			t.Fatalf("failed to move to %s: %v", next, err)
		}
	}

	if _, err := store.SetStatus(ctx, created.ID, domain.OrderStatusDelivered, "admin:ops"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	stored, err := repo.SelectByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to read order: %v", err)
	}
	if stored.Status != domain.OrderStatusPacked {
		t.Fatalf("expected packed, got %s", stored.Status)
	}
	if len(stored.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(stored.History))
	}
	if stored.History[0].From != domain.OrderStatusPlaced || stored.History[1].Status != domain.OrderStatusPacked {
		t.Fatalf("unexpected history: %+v", stored.History)
	}
	if len(stored.Items) != 2 || stored.Items[0].ProductID != "apple" {
		t.Fatalf("unexpected items: %+v", stored.Items)
	}
	if stored.Destination != created.Destination {
		t.Fatalf("expected destination %+v, got %+v", created.Destination, stored.Destination)
	}

	if _, err := repo.SelectByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(list) != 1 || len(list[0].History) != 2 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestConcurrentTransitionsAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := DBWithSchema(pg.ConnStr, "orders")
	if err != nil {
		t.Fatalf("failed to open orders DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	// Separate stores share no in-process lock, so only the database
	// arbitrates between them.
	var stores []*orders.Store
	for range 4 {
		store, err := orders.NewStore(orders.NewOrderRepository(db), nil, discardLogger())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		stores = append(stores, store)
	}

	created, err := stores[0].Create(ctx, newOrder("cust-1"))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
	)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := stores[i%len(stores)].SetStatus(ctx, created.ID, domain.OrderStatusConfirmed, "admin:ops")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 {
		t.Fatalf("expected exactly one success, got %d", succeeded.Load())
	}
	if conflicts.Load() != 15 {
		t.Fatalf("expected 15 conflicts, got %d", conflicts.Load())
	}

	stored, err := stores[0].GetStatus(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to read order: %v", err)
	}
	if len(stored.History) != 1 {
		t.Fatalf("expected a single history entry, got %d", len(stored.History))
	}
}

func assertConsistentSnapshot(t *testing.T, order *domain.Order) {
	t.Helper()

	want := domain.OrderStatusPlaced
	if n := len(order.History); n > 0 {
		want = order.History[n-1].Status
	}
	if order.Status != want {
		t.Errorf("order %s: status %s disagrees with history ending in %s", order.ID, order.Status, want)
	}
}

func TestReadsNeverObservePartialTransitions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := DBWithSchema(pg.ConnStr, "orders")
	if err != nil {
		t.Fatalf("failed to open orders DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := orders.NewOrderRepository(db)
	store, err := orders.NewStore(repo, nil, discardLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	var ids []string
	for range 10 {
		created, err := store.Create(ctx, newOrder("cust-1"))
		if err != nil {
			t.Fatalf("failed to create order: %v", err)
		}
		ids = append(ids, created.ID)
	}

	path := []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
		domain.OrderStatusReturned,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, next := range path {
			for _, id := range ids {
				if _, err := store.SetStatus(ctx, id, next, "admin:ops"); err != nil {
					t.Errorf("failed to move %s to %s: %v", id, next, err)
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for r := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if r%2 == 0 {
					all, err := repo.List(ctx)
					if err != nil {
						t.Errorf("failed to list orders: %v", err)
						return
					}
					for i := range all {
						assertConsistentSnapshot(t, &all[i])
					}
					continue
				}
				for _, id := range ids {
					order, err := repo.SelectByID(ctx, id)
					if err != nil {
						t.Errorf("failed to read order %s: %v", id, err)
						return
					}
					assertConsistentSnapshot(t, order)
				}
			}
		}()
	}

	<-done
	wg.Wait()

	for _, id := range ids {
		order, err := repo.SelectByID(ctx, id)
		if err != nil {
			t.Fatalf("failed to read order %s: %v", id, err)
		}
		if order.Status != domain.OrderStatusReturned || len(order.History) != len(path) {
			t.Errorf("order %s: expected returned with %d history entries, got %s with %d", id, len(path), order.Status, len(order.History))
		}
	}
}

func TestZoneRepositoryAndEvaluator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := DBWithSchema(pg.ConnStr, "zones")
	if err != nil {
		t.Fatalf("failed to open zones DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	catalog, err := zones.LoadFile(projectPath("internal", "zones", "testdata", "zones.yaml"))
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	repo := zones.NewZoneRepository(db)
	if err := repo.Import(ctx, catalog); err != nil {
		t.Fatalf("failed to import catalog: %v", err)
	}
	// Importing twice is an upsert.
	if err := repo.Import(ctx, catalog); err != nil {
		t.Fatalf("failed to re-import catalog: %v", err)
	}

	found, err := repo.LookupZones(ctx, "banana")
	if err != nil {
		t.Fatalf("failed to lookup zones: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 zones for banana, got %d", len(found))
	}
	for _, zone := range found {
		if zone.ID == "manhattan" && len(zone.Polygon) != 4 {
			t.Fatalf("expected polygon to round trip, got %+v", zone.Polygon)
		}
	}

	if err := repo.SetActive(ctx, "nowhere", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	evaluator, err := eligibility.NewEvaluator(repo, eligibility.Config{NoZonePolicy: eligibility.PolicyUndeliverable}, discardLogger())
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}

	midtown := domain.Coordinate{Latitude: 40.75, Longitude: -73.98}
	items := []domain.CartItem{
		{ProductID: "apple", Quantity: 1},
		{ProductID: "cherry", Quantity: 1},
		{ProductID: "durian", Quantity: 1},
	}

	result, err := evaluator.Evaluate(ctx, items, midtown)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if len(result.Deliverable) != 1 || result.Deliverable[0] != "apple" {
		t.Fatalf("expected only apple deliverable, got %+v", result)
	}

	if err := repo.SetActive(ctx, "manhattan", false); err != nil {
		t.Fatalf("failed to deactivate zone: %v", err)
	}
	result, err = evaluator.Evaluate(ctx, items, midtown)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if len(result.Deliverable) != 0 {
		t.Fatalf("expected nothing deliverable after deactivation, got %+v", result)
	}
}

type countingLookup struct {
	next  eligibility.ZoneLookup
	calls atomic.Int32
}

func (l *countingLookup) LookupZones(ctx context.Context, productID string) ([]domain.DeliveryZone, error) {
	l.calls.Add(1)
	return l.next.LookupZones(ctx, productID)
}

func TestZoneCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	addr, cleanup := SetupRedis(ctx, t)
	defer cleanup()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	catalog, err := zones.LoadFile(projectPath("internal", "zones", "testdata", "zones.yaml"))
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	source := &countingLookup{next: zones.NewStaticSource(catalog)}
	cached := eligibility.NewCachedLookup(source, client, time.Minute, discardLogger())

	for range 3 {
		found, err := cached.LookupZones(ctx, "cherry")
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if len(found) != 1 || found[0].ID != "jersey" {
			t.Fatalf("unexpected zones: %+v", found)
		}
	}
	if source.calls.Load() != 1 {
		t.Fatalf("expected a single source lookup, got %d", source.calls.Load())
	}

	ttl, err := client.TTL(ctx, "zones:product:0:cherry").Result()
	if err != nil {
		t.Fatalf("failed to read ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within a minute, got %v", ttl)
	}

	store := eligibility.NewCachedStore(zones.NewStaticSource(catalog), client, time.Hour, discardLogger())
	evaluator, err := eligibility.NewEvaluator(store, eligibility.Config{NoZonePolicy: eligibility.PolicyUndeliverable}, discardLogger())
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	jerseyCity := domain.Coordinate{Latitude: 40.728, Longitude: -74.078}
	cart := []domain.CartItem{{ProductID: "cherry", Quantity: 1}}

	result, err := evaluator.Evaluate(ctx, cart, jerseyCity)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if len(result.Deliverable) != 1 {
		t.Fatalf("expected cherry deliverable, got %+v", result)
	}

	if err := store.SetActive(ctx, "jersey", false); err != nil {
		t.Fatalf("failed to deactivate zone: %v", err)
	}
	result, err = evaluator.Evaluate(ctx, cart, jerseyCity)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if len(result.Deliverable) != 0 {
		t.Fatalf("expected cherry undeliverable once its zone is closed, got %+v", result)
	}
}

type emailCapture struct {
	mu     sync.Mutex
	emails []email.Message
}

func (e *emailCapture) handler(w http.ResponseWriter, r *http.Request) {
	var msg email.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.emails = append(e.emails, msg)
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":"sent"}`)
}

func (e *emailCapture) getEmails() []email.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]email.Message(nil), e.emails...)
}

func TestFulfillmentFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	brokers, kafkaCleanup := SetupKafka(ctx, t)
	defer kafkaCleanup()

	logger := discardLogger()

	db, err := DBWithSchema(pg.ConnStr, "orders")
	if err != nil {
		t.Fatalf("failed to open orders DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	statusProducer := messaging.NewProducer(brokers, domain.TopicOrderStatusChanged)
	defer func() { _ = statusProducer.Close() }()

	store, err := orders.NewStore(orders.NewOrderRepository(db), statusProducer, logger)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	statusHandler := statussync.NewHandler(statussync.NewService(store), logger)
	ordersMux := http.NewServeMux()
	ordersMux.HandleFunc("GET /order/status/{orderId}", statusHandler.HandleGetStatus)
	ordersMux.HandleFunc("PUT /order/status/{orderId}", statusHandler.HandleSetStatus)
	ordersServer := httptest.NewServer(ordersMux)
	defer ordersServer.Close()

	emailCap := &emailCapture{}
	emailMux := http.NewServeMux()
	emailMux.HandleFunc("POST /send", emailCap.handler)
	emailServer := httptest.NewServer(emailMux)
	defer emailServer.Close()

	created, err := store.Create(ctx, newOrder("cust-9"))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	fulfillmentProducer := messaging.NewProducer(brokers, domain.TopicFulfillmentEvents)
	defer func() { _ = fulfillmentProducer.Close() }()
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
	} {
		event := domain.FulfillmentEvent{OrderID: created.ID, Status: status, Actor: "warehouse", OccurredAt: time.Now().UTC()}
		if err := fulfillmentProducer.Publish(ctx, created.ID, event); err != nil {
			t.Fatalf("failed to publish fulfillment event: %v", err)
		}
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	config := worker.Config{MaxRetries: 2, InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond}
	updater := statusclient.New(ordersServer.URL, httpClient, identity.Caller{ID: "fulfillment", Admin: true})
	fulfillment := worker.NewFulfillmentHandler(updater, config, logger)
	notifications := worker.NewNotificationHandler(email.NewClient(emailServer.URL, httpClient), config, logger)

	consumeCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()

	var wg sync.WaitGroup
	for _, c := range []struct {
		topic   string
		group   string
		handler messaging.HandlerFunc
	}{
		{domain.TopicFulfillmentEvents, "fulfillment-test", messaging.JSON(fulfillment.Handle)},
		{domain.TopicOrderStatusChanged, "notification-test", messaging.JSON(notifications.Handle)},
	} {
		consumer := messaging.NewConsumer(brokers, c.topic, c.group, logger, messaging.WithStartOffset(kafka.FirstOffset))
		defer func() { _ = consumer.Close() }()

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = consumer.Consume(consumeCtx, c.handler)
		}()
	}

	deadline := time.Now().Add(90 * time.Second)
	for time.Now().Before(deadline) {
		current, err := store.GetStatus(ctx, created.ID)
		if err != nil {
			t.Fatalf("failed to read order: %v", err)
		}
		if current.Status == domain.OrderStatusShipped && len(emailCap.getEmails()) >= 2 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	stopConsumers()
	wg.Wait()

	final, err := store.GetStatus(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to read order: %v", err)
	}
	if final.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", final.Status)
	}
	if len(final.History) != 3 {
		t.Fatalf("expected duplicate confirmation to be absorbed, got history %+v", final.History)
	}

	emails := emailCap.getEmails()
	if len(emails) != 2 {
		t.Fatalf("expected confirmed and shipped emails, got %+v", emails)
	}
	if emails[0].Subject != "Order confirmed: "+created.ID || emails[1].Subject != "Order shipped: "+created.ID {
		t.Fatalf("unexpected email subjects: %q, %q", emails[0].Subject, emails[1].Subject)
	}
}
