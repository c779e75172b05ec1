// Package statussync is the only external interface for order status reads
// and writes. It authorizes the caller, validates the request and delegates
// to the order store; it holds no state of its own.
package statussync

import (
	"context"
	"fmt"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/identity"
)

// StatusStore is the subset of orders.Store the service depends on.
type StatusStore interface {
	GetStatus(ctx context.Context, orderID string) (*domain.Order, error)
	SetStatus(ctx context.Context, orderID string, next domain.OrderStatus, actor string) (*domain.Order, error)
	SetStatusIfCurrent(ctx context.Context, orderID string, expected, next domain.OrderStatus, actor string) (*domain.Order, error)
}

type Service struct {
	store StatusStore
}

func NewService(store StatusStore) *Service {
	return &Service{store: store}
}

func (s *Service) GetStatus(ctx context.Context, caller identity.Caller, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}

	order, err := s.store.GetStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Foreign orders look missing so their existence does not leak.
	if !caller.CanAccess(order.CustomerID) {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return order, nil
}

// SetStatus applies a transition on behalf of caller. Customers may only
// cancel or return their own orders; everything else needs the admin
// capability. expected is optional.
func (s *Service) SetStatus(ctx context.Context, caller identity.Caller, orderID string, next, expected domain.OrderStatus) (*domain.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}
	if next == "" {
		return nil, fmt.Errorf("%w: status is required", domain.ErrInvalidInput)
	}

	if !caller.Admin {
		if _, err := s.GetStatus(ctx, caller, orderID); err != nil {
			return nil, err
		}
		if !next.IsCustomerRequestable() {
			return nil, fmt.Errorf("%w: customers cannot move orders to %s", domain.ErrForbidden, next)
		}
	}

	if expected != "" {
		return s.store.SetStatusIfCurrent(ctx, orderID, expected, next, caller.Actor())
	}
	return s.store.SetStatus(ctx, orderID, next, caller.Actor())
}
