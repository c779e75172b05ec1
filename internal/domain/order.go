package domain

import (
	"fmt"
	"time"
)

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// StatusChange is one immutable entry of an order's status history.
type StatusChange struct {
	From      OrderStatus `json:"from"`
	Status    OrderStatus `json:"status"`
	Actor     string      `json:"actor"`
	ChangedAt time.Time   `json:"changedAt"`
}

type Order struct {
	ID          string         `json:"id"`
	CustomerID  string         `json:"customerId"`
	Items       []OrderItem    `json:"items"`
	Total       int64          `json:"total"`
	Status      OrderStatus    `json:"status"`
	History     []StatusChange `json:"history"`
	Destination Coordinate     `json:"destination"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share the items or history
// backing arrays with the store.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.History = append([]StatusChange(nil), o.History...)
	return &c
}

func (o *Order) Validate() error {
	if o.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: item product id is required", ErrInvalidInput)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %s quantity must be positive", ErrInvalidInput, item.ProductID)
		}
		if item.Price < 0 {
			return fmt.Errorf("%w: item %s price must not be negative", ErrInvalidInput, item.ProductID)
		}
	}
	return o.Destination.Validate()
}

func (o *Order) ComputeTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Quantity) * item.Price
	}
	return total
}
