package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

const pqUniqueViolation = "23505"

// OrderRepository persists orders, their items and the append-only status
// history in Postgres.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var snapshotTx = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// readSnapshot runs fn in a read-only repeatable-read transaction, so order
// rows, items and history all come from the same committed state.
func (r *OrderRepository) readSnapshot(ctx context.Context, fn func(q querier) error) error {
	tx, err := r.db.BeginTx(ctx, snapshotTx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, status, total, dest_lat, dest_lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.CustomerID, order.Status, order.Total,
		order.Destination.Latitude, order.Destination.Longitude, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s already exists: %w", order.ID, domain.ErrConflict)
		}
		return err
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, i, item.ProductID, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) SelectByID(ctx context.Context, id string) (*domain.Order, error) {
	var order *domain.Order
	err := r.readSnapshot(ctx, func(q querier) error {
		var err error
		order, err = selectOrder(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func selectOrder(ctx context.Context, q querier, id string) (*domain.Order, error) {
	order := &domain.Order{}

	err := q.QueryRowContext(ctx, `
		SELECT id, customer_id, status, total, dest_lat, dest_lng, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.CustomerID, &order.Status, &order.Total,
		&order.Destination.Latitude, &order.Destination.Longitude, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY line
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	history, err := selectHistory(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.History = history

	return order, nil
}

func selectHistory(ctx context.Context, q querier, id string) ([]domain.StatusChange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT from_status, status, actor, changed_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var history []domain.StatusChange
	for rows.Next() {
		var change domain.StatusChange
		if err := rows.Scan(&change.From, &change.Status, &change.Actor, &change.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, change)
	}

	return history, rows.Err()
}

// UpdateStatusTransactional moves the order from expected to change.Status and
// appends change to the history in one transaction. The update only applies
// while the stored status still equals expected.
func (r *OrderRepository) UpdateStatusTransactional(ctx context.Context, id string, expected domain.OrderStatus, change domain.StatusChange) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, change.Status, change.ChangedAt, id, expected)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("order %s is no longer %s: %w", id, expected, domain.ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, seq, from_status, status, actor, changed_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5
		FROM order_status_history
		WHERE order_id = $1
	`, id, change.From, change.Status, change.Actor, change.ChangedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("order %s history moved concurrently: %w", id, domain.ErrConflict)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.SelectByID(ctx, id)
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.readSnapshot(ctx, func(q querier) error {
		var err error
		orders, err = listOrders(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func listOrders(ctx context.Context, q querier) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, customer_id, status, total, dest_lat, dest_lng, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.Status, &order.Total,
			&order.Destination.Latitude, &order.Destination.Longitude, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	historyRows, err := q.QueryContext(ctx, `
		SELECT order_id, from_status, status, actor, changed_at
		FROM order_status_history
		WHERE order_id = ANY($1)
		ORDER BY order_id, seq
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = historyRows.Close() }()

	for historyRows.Next() {
		var orderID string
		var change domain.StatusChange
		if err := historyRows.Scan(&orderID, &change.From, &change.Status, &change.Actor, &change.ChangedAt); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.History = append(order.History, change)
	}

	if err := historyRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
