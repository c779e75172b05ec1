// Package eligibility decides, at cart-build time, which products can be
// delivered to a destination given the delivery zones of their warehouses.
package eligibility

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

var (
	evaluatorTracer = otel.Tracer("eligibility/evaluator")
	evaluatorMeter  = otel.Meter("eligibility/evaluator")
)

// NoZonePolicy decides the outcome for products without any zone data.
type NoZonePolicy string

const (
	PolicyDeliverable   NoZonePolicy = "deliverable"
	PolicyUndeliverable NoZonePolicy = "undeliverable"
)

func ParseNoZonePolicy(s string) (NoZonePolicy, error) {
	switch p := NoZonePolicy(s); p {
	case PolicyDeliverable, PolicyUndeliverable:
		return p, nil
	}
	return "", fmt.Errorf("%w: no-zone policy must be %q or %q, got %q", domain.ErrInvalidInput, PolicyDeliverable, PolicyUndeliverable, s)
}

const defaultLookupConcurrency = 8

type Config struct {
	NoZonePolicy NoZonePolicy
	// LookupConcurrency bounds concurrent zone lookups. Zero uses a default.
	LookupConcurrency int
}

func (c Config) Validate() error {
	if _, err := ParseNoZonePolicy(string(c.NoZonePolicy)); err != nil {
		return err
	}
	if c.LookupConcurrency < 0 {
		return fmt.Errorf("%w: lookup concurrency must not be negative", domain.ErrInvalidInput)
	}
	return nil
}

// ZoneLookup returns the delivery zones of the warehouses stocking a product.
type ZoneLookup interface {
	LookupZones(ctx context.Context, productID string) ([]domain.DeliveryZone, error)
}

type Result struct {
	Deliverable   []string `json:"deliverableProductIds"`
	Undeliverable []string `json:"undeliverableProductIds"`
	// Degraded is set when zone data for at least one product could not be
	// read. Those products are reported undeliverable.
	Degraded bool `json:"degraded"`
}

type Evaluator struct {
	lookup      ZoneLookup
	config      Config
	logger      *slog.Logger
	evaluations metric.Int64Counter
}

func NewEvaluator(lookup ZoneLookup, config Config, logger *slog.Logger) (*Evaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.LookupConcurrency == 0 {
		config.LookupConcurrency = defaultLookupConcurrency
	}

	evaluations, err := evaluatorMeter.Int64Counter("eligibility.evaluations",
		metric.WithDescription("Cart availability evaluations."),
	)
	if err != nil {
		return nil, fmt.Errorf("create evaluations counter: %w", err)
	}

	return &Evaluator{
		lookup:      lookup,
		config:      config,
		logger:      logger,
		evaluations: evaluations,
	}, nil
}

type lookupResult struct {
	zones []domain.DeliveryZone
	err   error
}

// Evaluate partitions the products of items into deliverable and
// undeliverable for destination. Each product appears once, in the order it
// first occurs in the cart. A product with several cart lines is deliverable
// only if every line is.
func (e *Evaluator) Evaluate(ctx context.Context, items []domain.CartItem, destination domain.Coordinate) (Result, error) {
	ctx, span := evaluatorTracer.Start(ctx, "eligibility.Evaluate")
	defer span.End()

	if err := destination.Validate(); err != nil {
		return Result{}, err
	}

	var products []string
	seen := make(map[string]bool)
	for i, item := range items {
		if item.ProductID == "" {
			return Result{}, fmt.Errorf("%w: item %d has no product id", domain.ErrInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return Result{}, fmt.Errorf("%w: item %d has non-positive quantity %d", domain.ErrInvalidInput, i, item.Quantity)
		}
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			products = append(products, item.ProductID)
		}
	}

	result := Result{Deliverable: []string{}, Undeliverable: []string{}}
	if len(products) == 0 {
		return result, nil
	}

	lookups := e.lookupAll(ctx, products)

	deliverable := make(map[string]bool, len(products))
	for _, productID := range products {
		deliverable[productID] = true
	}
	for _, item := range items {
		found := lookups[item.ProductID]
		if found.err != nil {
			deliverable[item.ProductID] = false
			continue
		}
		if !e.itemDeliverable(item, found.zones, destination) {
			deliverable[item.ProductID] = false
		}
	}

	for _, productID := range products {
		if lookups[productID].err != nil {
			result.Degraded = true
		}
		if deliverable[productID] {
			result.Deliverable = append(result.Deliverable, productID)
		} else {
			result.Undeliverable = append(result.Undeliverable, productID)
		}
	}

	span.SetAttributes(
		attribute.Int("cart.products", len(products)),
		attribute.Int("cart.undeliverable", len(result.Undeliverable)),
		attribute.Bool("cart.degraded", result.Degraded),
	)
	e.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("degraded", result.Degraded)))

	return result, nil
}

func (e *Evaluator) lookupAll(ctx context.Context, products []string) map[string]lookupResult {
	results := make([]lookupResult, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.LookupConcurrency)
	for i, productID := range products {
		g.Go(func() error {
			zones, err := e.lookup.LookupZones(gctx, productID)
			if err != nil {
				e.logger.Warn("zone lookup failed, treating product as undeliverable", "error", err, "product_id", productID)
			}
			results[i] = lookupResult{zones: zones, err: err}
			return nil
		})
	}
	_ = g.Wait()

	byProduct := make(map[string]lookupResult, len(products))
	for i, productID := range products {
		byProduct[productID] = results[i]
	}
	return byProduct
}

func (e *Evaluator) itemDeliverable(item domain.CartItem, zones []domain.DeliveryZone, destination domain.Coordinate) bool {
	if len(zones) == 0 {
		return e.config.NoZonePolicy == PolicyDeliverable
	}

	for _, zone := range zones {
		if !zone.Active {
			continue
		}
		if item.ZoneID != "" && zone.ID != item.ZoneID {
			continue
		}
		if PointInZone(destination, zone) {
			return true
		}
	}
	return false
}
