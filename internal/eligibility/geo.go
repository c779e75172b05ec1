package eligibility

import (
	"math"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

const earthRadiusMeters = 6371008.8

// boundaryEpsilon is the tolerance, in degrees, for treating a point as lying
// on a polygon edge.
const boundaryEpsilon = 1e-9

// PointInZone reports whether c lies inside z. Points on a polygon edge count
// as inside. Zones with malformed geometry contain nothing.
func PointInZone(c domain.Coordinate, z domain.DeliveryZone) bool {
	switch z.Kind {
	case domain.ZoneKindPolygon:
		return pointInPolygon(c, z.Polygon)
	case domain.ZoneKindRadius:
		if z.RadiusMeters <= 0 {
			return false
		}
		return haversineMeters(c, z.Center) <= z.RadiusMeters
	}
	return false
}

func pointInPolygon(c domain.Coordinate, polygon []domain.Coordinate) bool {
	if len(polygon) < 3 {
		return false
	}

	x, y := c.Longitude, c.Latitude
	inside := false
	for i, j := 0, len(polygon)-1; i < len(polygon); j, i = i, i+1 {
		xi, yi := polygon[i].Longitude, polygon[i].Latitude
		xj, yj := polygon[j].Longitude, polygon[j].Latitude

		if onSegment(x, y, xi, yi, xj, yj) {
			return true
		}
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func onSegment(x, y, x1, y1, x2, y2 float64) bool {
	cross := (x-x1)*(y2-y1) - (y-y1)*(x2-x1)
	if math.Abs(cross) > boundaryEpsilon {
		return false
	}
	return x >= math.Min(x1, x2)-boundaryEpsilon && x <= math.Max(x1, x2)+boundaryEpsilon &&
		y >= math.Min(y1, y2)-boundaryEpsilon && y <= math.Max(y1, y2)+boundaryEpsilon
}

func haversineMeters(a, b domain.Coordinate) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLat := lat2 - lat1
	dLng := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
