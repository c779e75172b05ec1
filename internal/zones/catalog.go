package zones

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

// Catalog is the zone file layout: the zones and, per product, the
// warehouses that stock it.
type Catalog struct {
	Zones    []domain.DeliveryZone `yaml:"zones"`
	Products map[string][]string   `yaml:"products"`
}

func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Zones))
	for i, zone := range c.Zones {
		if zone.ID == "" {
			return fmt.Errorf("%w: zone %d has no id", domain.ErrInvalidInput, i)
		}
		if seen[zone.ID] {
			return fmt.Errorf("%w: duplicate zone %s", domain.ErrInvalidInput, zone.ID)
		}
		seen[zone.ID] = true
		if zone.WarehouseID == "" {
			return fmt.Errorf("%w: zone %s has no warehouse", domain.ErrInvalidInput, zone.ID)
		}

		switch zone.Kind {
		case domain.ZoneKindPolygon:
			if len(zone.Polygon) < 3 {
				return fmt.Errorf("%w: polygon zone %s needs at least 3 vertices", domain.ErrInvalidInput, zone.ID)
			}
			for _, c := range zone.Polygon {
				if err := c.Validate(); err != nil {
					return fmt.Errorf("zone %s: %w", zone.ID, err)
				}
			}
		case domain.ZoneKindRadius:
			if zone.RadiusMeters <= 0 {
				return fmt.Errorf("%w: radius zone %s needs a positive radius", domain.ErrInvalidInput, zone.ID)
			}
			if err := zone.Center.Validate(); err != nil {
				return fmt.Errorf("zone %s: %w", zone.ID, err)
			}
		default:
			return fmt.Errorf("%w: zone %s has unknown kind %q", domain.ErrInvalidInput, zone.ID, zone.Kind)
		}
	}
	return nil
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%w: parse zone file: %w", domain.ErrInvalidInput, err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	return &catalog, nil
}

// StaticSource serves a catalog from memory.
type StaticSource struct {
	mu       sync.RWMutex
	zones    []domain.DeliveryZone
	products map[string][]string
}

func NewStaticSource(catalog *Catalog) *StaticSource {
	products := make(map[string][]string, len(catalog.Products))
	for productID, warehouses := range catalog.Products {
		products[productID] = slices.Clone(warehouses)
	}
	return &StaticSource{
		zones:    cloneZones(catalog.Zones),
		products: products,
	}
}

func (s *StaticSource) ListAll(_ context.Context) ([]domain.DeliveryZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneZones(s.zones), nil
}

func (s *StaticSource) LookupZones(_ context.Context, productID string) ([]domain.DeliveryZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	warehouses := s.products[productID]
	var zones []domain.DeliveryZone
	for _, zone := range s.zones {
		if slices.Contains(warehouses, zone.WarehouseID) {
			zones = append(zones, cloneZone(zone))
		}
	}
	return zones, nil
}

func (s *StaticSource) SetActive(_ context.Context, zoneID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.zones {
		if s.zones[i].ID == zoneID {
			s.zones[i].Active = active
			return nil
		}
	}
	return fmt.Errorf("zone %s: %w", zoneID, domain.ErrNotFound)
}

func cloneZones(zones []domain.DeliveryZone) []domain.DeliveryZone {
	out := make([]domain.DeliveryZone, len(zones))
	for i, zone := range zones {
		out[i] = cloneZone(zone)
	}
	return out
}

func cloneZone(zone domain.DeliveryZone) domain.DeliveryZone {
	zone.Polygon = slices.Clone(zone.Polygon)
	return zone
}
