package domain

import "time"

const (
	TopicOrderStatusChanged = "order.status_changed"
	TopicFulfillmentEvents  = "fulfillment.events"
)

// OrderStatusChangedEvent is published after an order is created (From empty)
// and after every accepted transition.
type OrderStatusChangedEvent struct {
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	From       OrderStatus `json:"from,omitempty"`
	To         OrderStatus `json:"to"`
	Actor      string      `json:"actor"`
	Timestamp  time.Time   `json:"timestamp"`
}

// FulfillmentEvent is emitted by warehouse and carrier systems to move an
// order along its lifecycle.
type FulfillmentEvent struct {
	OrderID    string      `json:"orderId"`
	Status     OrderStatus `json:"status"`
	Actor      string      `json:"actor"`
	OccurredAt time.Time   `json:"occurredAt"`
}
