// Package worker applies fulfillment events to orders and notifies customers
// when their orders move.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/email"
)

type Config struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (c Config) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)
}

// StatusUpdater is the status sync service as seen by the worker.
type StatusUpdater interface {
	FetchStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
	SetStatus(ctx context.Context, orderID string, status, expected domain.OrderStatus) (domain.OrderStatus, error)
}

type FulfillmentHandler struct {
	updater StatusUpdater
	config  Config
	logger  *slog.Logger
}

func NewFulfillmentHandler(updater StatusUpdater, config Config, logger *slog.Logger) *FulfillmentHandler {
	return &FulfillmentHandler{
		updater: updater,
		config:  config,
		logger:  logger,
	}
}

// Handle applies one fulfillment event. Events that can never apply are
// logged and acknowledged; an error means the event should be redelivered.
func (h *FulfillmentHandler) Handle(ctx context.Context, event domain.FulfillmentEvent) error {
	logger := h.logger.With("order_id", event.OrderID, "status", event.Status, "actor", event.Actor)

	if event.OrderID == "" || !event.Status.Valid() {
		logger.Error("dropping invalid fulfillment event")
		return nil
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := h.updater.SetStatus(ctx, event.OrderID, event.Status, "")
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrConflict):
			current, fetchErr := h.updater.FetchStatus(ctx, event.OrderID)
			if fetchErr == nil && current == event.Status {
				logger.Info("fulfillment event already applied")
				return nil
			}
			logger.Warn("status conflict, retrying", "error", err, "attempt", attempt)
			return err
		case errors.Is(err, domain.ErrUnavailable):
			logger.Warn("status service unavailable, retrying", "error", err, "attempt", attempt)
			return err
		}
		return backoff.Permanent(err)
	}, h.config.backOff(ctx))

	switch {
	case err == nil:
		logger.Info("fulfillment event applied", "attempts", attempt)
		return nil
	case domain.Retryable(err):
		return fmt.Errorf("apply fulfillment event for order %s after %d attempts: %w", event.OrderID, attempt, err)
	case ctx.Err() != nil:
		return ctx.Err()
	}

	logger.Error("fulfillment event rejected", "error", err, "code", domain.Code(err))
	return nil
}

type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

type NotificationHandler struct {
	mailer Mailer
	config Config
	logger *slog.Logger
}

func NewNotificationHandler(mailer Mailer, config Config, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailer: mailer,
		config: config,
		logger: logger,
	}
}

var notifications = map[domain.OrderStatus]struct{ subject, body string }{
	domain.OrderStatusConfirmed:      {"Order confirmed", "Your order %s has been confirmed."},
	domain.OrderStatusShipped:        {"Order shipped", "Your order %s has shipped."},
	domain.OrderStatusOutForDelivery: {"Out for delivery", "Your order %s is out for delivery today."},
	domain.OrderStatusDelivered:      {"Order delivered", "Your order %s has been delivered."},
	domain.OrderStatusCancelled:      {"Order cancelled", "Your order %s has been cancelled. Any payment will be refunded."},
	domain.OrderStatusReturned:       {"Return received", "We have received the return of order %s."},
}

func (h *NotificationHandler) Handle(ctx context.Context, event domain.OrderStatusChangedEvent) error {
	note, ok := notifications[event.To]
	if !ok {
		return nil
	}

	msg := email.Message{
		To:      event.CustomerID + "@example.com",
		Subject: note.subject + ": " + event.OrderID,
		Body:    fmt.Sprintf(note.body, event.OrderID),
	}

	err := backoff.Retry(func() error {
		return h.mailer.Send(ctx, msg)
	}, h.config.backOff(ctx))
	if err != nil {
		h.logger.Error("failed to send status email", "error", err, "order_id", event.OrderID, "status", event.To)
		return fmt.Errorf("send %s email: %w", event.To, err)
	}

	h.logger.Info("status email sent", "order_id", event.OrderID, "status", event.To)
	return nil
}
