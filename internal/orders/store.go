package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

var (
	storeTracer = otel.Tracer("orders/store")
	storeMeter  = otel.Meter("orders/store")
)

// Persistence is the storage collaborator of the Store.
type Persistence interface {
	Insert(ctx context.Context, order *domain.Order) error
	SelectByID(ctx context.Context, id string) (*domain.Order, error)
	UpdateStatusTransactional(ctx context.Context, id string, expected domain.OrderStatus, change domain.StatusChange) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Store is the authoritative record of order lifecycle state. Writes to the
// same order are serialized in process, and the persistence layer rejects a
// write whose expected status is stale, so concurrent writers on different
// instances cannot both succeed.
type Store struct {
	db          Persistence
	publisher   EventPublisher
	locks       *keyedMutex
	logger      *slog.Logger
	now         func() time.Time
	transitions metric.Int64Counter
}

type StoreOption func(*Store)

// WithClock overrides the time source used for history timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore builds a Store. publisher may be nil when events are not published.
func NewStore(db Persistence, publisher EventPublisher, logger *slog.Logger, opts ...StoreOption) (*Store, error) {
	transitions, err := storeMeter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Accepted order status transitions."),
	)
	if err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}

	s := &Store{
		db:          db,
		publisher:   publisher,
		locks:       newKeyedMutex(),
		logger:      logger,
		now:         time.Now,
		transitions: transitions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Create(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	ctx, span := storeTracer.Start(ctx, "orders.Create")
	defer span.End()

	if err := order.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	created := order.Clone()
	created.ID = uuid.New().String()
	created.Status = domain.OrderStatusPlaced
	created.History = nil
	created.Total = created.ComputeTotal()
	created.CreatedAt = now
	created.UpdatedAt = now

	if err := s.db.Insert(ctx, created); err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("insert order: %w", err)
	}

	span.SetAttributes(attribute.String("order.id", created.ID))
	s.publish(ctx, created, domain.StatusChange{Status: created.Status, Actor: "customer:" + created.CustomerID, ChangedAt: now})

	return created, nil
}

func (s *Store) GetStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}
	return s.db.SelectByID(ctx, orderID)
}

func (s *Store) List(ctx context.Context) ([]domain.Order, error) {
	return s.db.List(ctx)
}

// SetStatus moves the order to next. Requesting the status the order already
// has fails with ErrConflict: a racing writer got the same transition first.
func (s *Store) SetStatus(ctx context.Context, orderID string, next domain.OrderStatus, actor string) (*domain.Order, error) {
	return s.transition(ctx, orderID, "", next, actor)
}

// SetStatusIfCurrent is SetStatus guarded by the caller's view of the current
// status; a stale view fails with ErrConflict.
func (s *Store) SetStatusIfCurrent(ctx context.Context, orderID string, expected, next domain.OrderStatus, actor string) (*domain.Order, error) {
	if !expected.Valid() {
		return nil, fmt.Errorf("%w: unknown expected status %q", domain.ErrInvalidInput, expected)
	}
	return s.transition(ctx, orderID, expected, next, actor)
}

func (s *Store) transition(ctx context.Context, orderID string, expected, next domain.OrderStatus, actor string) (*domain.Order, error) {
	ctx, span := storeTracer.Start(ctx, "orders.SetStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(next)),
	))
	defer span.End()

	switch {
	case orderID == "":
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	case !next.Valid():
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, next)
	case actor == "":
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	current, err := s.db.SelectByID(ctx, orderID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	if expected != "" && current.Status != expected {
		return nil, fmt.Errorf("order %s is %s, not %s: %w", orderID, current.Status, expected, domain.ErrConflict)
	}
	if current.Status == next {
		return nil, fmt.Errorf("order %s is already %s: %w", orderID, next, domain.ErrConflict)
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current.Status, next)
	}

	change := domain.StatusChange{
		From:      current.Status,
		Status:    next,
		Actor:     actor,
		ChangedAt: s.now().UTC(),
	}

	updated, err := s.db.UpdateStatusTransactional(ctx, orderID, current.Status, change)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(change.From)),
		attribute.String("to", string(change.Status)),
	))
	s.logger.Info("order status changed", "order_id", orderID, "from", change.From, "status", change.Status, "actor", actor)
	s.publish(ctx, updated, change)

	return updated, nil
}

func (s *Store) publish(ctx context.Context, order *domain.Order, change domain.StatusChange) {
	if s.publisher == nil {
		return
	}

	event := domain.OrderStatusChangedEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		From:       change.From,
		To:         change.Status,
		Actor:      change.Actor,
		Timestamp:  change.ChangedAt,
	}
	if err := s.publisher.Publish(ctx, order.ID, event); err != nil {
		s.logger.Error("failed to publish order status changed event", "error", err, "order_id", order.ID)
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
