package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

// MemoryRepository is an in-process persistence used for local runs without
// Postgres and in tests. It follows the same contract as OrderRepository.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryRepository) Insert(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists: %w", order.ID, domain.ErrConflict)
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryRepository) SelectByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return order.Clone(), nil
}

func (r *MemoryRepository) UpdateStatusTransactional(_ context.Context, id string, expected domain.OrderStatus, change domain.StatusChange) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if order.Status != expected {
		return nil, fmt.Errorf("order %s is no longer %s: %w", id, expected, domain.ErrConflict)
	}

	// Replace rather than mutate so snapshots handed out earlier stay intact.
	updated := order.Clone()
	updated.Status = change.Status
	updated.UpdatedAt = change.ChangedAt
	updated.History = append(updated.History, change)
	r.orders[id] = updated

	return updated.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		orders = append(orders, *order.Clone())
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}
