package zones

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

type ZoneRepository struct {
	db *sql.DB
}

func NewZoneRepository(db *sql.DB) *ZoneRepository {
	return &ZoneRepository{db: db}
}

const zoneColumns = `z.id, z.warehouse_id, z.kind, z.polygon_lats, z.polygon_lngs,
	z.center_lat, z.center_lng, z.radius_meters, z.active`

func (r *ZoneRepository) ListAll(ctx context.Context) ([]domain.DeliveryZone, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+zoneColumns+`
		FROM delivery_zones z
		ORDER BY z.id
	`)
	if err != nil {
		return nil, err
	}
	return scanZones(rows)
}

// LookupZones returns every zone, active or not, of the warehouses stocking
// productID.
func (r *ZoneRepository) LookupZones(ctx context.Context, productID string) ([]domain.DeliveryZone, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+zoneColumns+`
		FROM delivery_zones z
		JOIN product_warehouses pw ON pw.warehouse_id = z.warehouse_id
		WHERE pw.product_id = $1
		ORDER BY z.id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup zones: %w", domain.ErrUnavailable, err)
	}
	zones, err := scanZones(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup zones: %w", domain.ErrUnavailable, err)
	}
	return zones, nil
}

func (r *ZoneRepository) SetActive(ctx context.Context, zoneID string, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE delivery_zones SET active = $2 WHERE id = $1
	`, zoneID, active)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("zone %s: %w", zoneID, domain.ErrNotFound)
	}

	return nil
}

// Import upserts the zones and product assignments of a catalog in one
// transaction.
func (r *ZoneRepository) Import(ctx context.Context, catalog *Catalog) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, zone := range catalog.Zones {
		lats, lngs := splitPolygon(zone.Polygon)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO delivery_zones (id, warehouse_id, kind, polygon_lats, polygon_lngs, center_lat, center_lng, radius_meters, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				warehouse_id = EXCLUDED.warehouse_id,
				kind = EXCLUDED.kind,
				polygon_lats = EXCLUDED.polygon_lats,
				polygon_lngs = EXCLUDED.polygon_lngs,
				center_lat = EXCLUDED.center_lat,
				center_lng = EXCLUDED.center_lng,
				radius_meters = EXCLUDED.radius_meters,
				active = EXCLUDED.active
		`, zone.ID, zone.WarehouseID, zone.Kind, pq.Array(lats), pq.Array(lngs),
			zone.Center.Latitude, zone.Center.Longitude, zone.RadiusMeters, zone.Active)
		if err != nil {
			return fmt.Errorf("upsert zone %s: %w", zone.ID, err)
		}
	}

	for productID, warehouses := range catalog.Products {
		for _, warehouseID := range warehouses {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO product_warehouses (product_id, warehouse_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, productID, warehouseID)
			if err != nil {
				return fmt.Errorf("assign product %s: %w", productID, err)
			}
		}
	}

	return tx.Commit()
}

func scanZones(rows *sql.Rows) ([]domain.DeliveryZone, error) {
	defer func() { _ = rows.Close() }()

	var zones []domain.DeliveryZone
	for rows.Next() {
		var (
			zone       domain.DeliveryZone
			lats, lngs []float64
		)
		if err := rows.Scan(&zone.ID, &zone.WarehouseID, &zone.Kind,
			pq.Array(&lats), pq.Array(&lngs),
			&zone.Center.Latitude, &zone.Center.Longitude, &zone.RadiusMeters, &zone.Active); err != nil {
			return nil, err
		}
		zone.Polygon = joinPolygon(lats, lngs)
		zones = append(zones, zone)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return zones, nil
}

func splitPolygon(polygon []domain.Coordinate) (lats, lngs []float64) {
	lats = make([]float64, len(polygon))
	lngs = make([]float64, len(polygon))
	for i, c := range polygon {
		lats[i], lngs[i] = c.Latitude, c.Longitude
	}
	return lats, lngs
}

// joinPolygon pairs the coordinate columns back up, ignoring any unmatched
// tail.
func joinPolygon(lats, lngs []float64) []domain.Coordinate {
	n := min(len(lats), len(lngs))
	if n == 0 {
		return nil
	}
	polygon := make([]domain.Coordinate, n)
	for i := range n {
		polygon[i] = domain.Coordinate{Latitude: lats[i], Longitude: lngs[i]}
	}
	return polygon
}
