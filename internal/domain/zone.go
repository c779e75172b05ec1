package domain

import (
	"fmt"
	"math"
)

type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidInput, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidInput, c.Longitude)
	}
	return nil
}

type ZoneKind string

const (
	ZoneKindPolygon ZoneKind = "polygon"
	ZoneKindRadius  ZoneKind = "radius"
)

// DeliveryZone is a service area of a warehouse. Polygon zones use Polygon,
// radius zones use Center and RadiusMeters.
type DeliveryZone struct {
	ID           string       `json:"id" yaml:"id"`
	WarehouseID  string       `json:"warehouseId" yaml:"warehouse"`
	Kind         ZoneKind     `json:"kind" yaml:"kind"`
	Polygon      []Coordinate `json:"polygon,omitempty" yaml:"polygon,omitempty"`
	Center       Coordinate   `json:"center" yaml:"center"`
	RadiusMeters float64      `json:"radiusMeters,omitempty" yaml:"radius_meters,omitempty"`
	Active       bool         `json:"active" yaml:"active"`
}

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	// ZoneID restricts the item to a single zone when set.
	ZoneID string `json:"zoneId,omitempty"`
}
