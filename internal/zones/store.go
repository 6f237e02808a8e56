package zones

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// Querier is the subset of pgxpool.Pool used by Store.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	listZonesSQL = `SELECT id, name FROM shipping_zones ORDER BY sort_order, id`

	listLocationsSQL = `SELECT zone_id, code FROM shipping_zone_locations ORDER BY zone_id, position, id`

	listMethodsSQL = `SELECT zone_id, method_id, title, enabled, cost::text, COALESCE(delivery_time, '')
FROM shipping_zone_methods ORDER BY zone_id, position, id`
)

// Store reads shipping zones from Postgres.
type Store struct {
	Q   Querier
	Now func() time.Time
}

// Load reads all zones, locations and methods in three queries.
func (s Store) Load(ctx context.Context) (Snapshot, error) {
	if s.Q == nil {
		return Snapshot{}, errors.New("zones: store queries not configured")
	}
	order, byID, err := s.zones(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.locations(ctx, byID); err != nil {
		return Snapshot{}, err
	}
	if err := s.methods(ctx, byID); err != nil {
		return Snapshot{}, err
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	snap := Snapshot{FetchedAt: now().UTC()}
	for _, id := range order {
		zone := byID[id]
		if id == pricing.DefaultZoneID {
			snap.Default = pricing.DefaultZone{Name: zone.Name, Methods: zone.Methods}
			continue
		}
		snap.Zones = append(snap.Zones, *zone)
	}
	return snap, nil
}

func (s Store) zones(ctx context.Context) ([]int, map[int]*pricing.ShippingZone, error) {
	rows, err := s.Q.Query(ctx, listZonesSQL)
	if err != nil {
		return nil, nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()
	var order []int
	byID := map[int]*pricing.ShippingZone{}
	for rows.Next() {
		var zone pricing.ShippingZone
		if err := rows.Scan(&zone.ID, &zone.Name); err != nil {
			return nil, nil, fmt.Errorf("scan zone: %w", err)
		}
		order = append(order, zone.ID)
		byID[zone.ID] = &zone
	}
	return order, byID, rows.Err()
}

func (s Store) locations(ctx context.Context, byID map[int]*pricing.ShippingZone) error {
	rows, err := s.Q.Query(ctx, listLocationsSQL)
	if err != nil {
		return fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			zoneID int
			code   string
		)
		if err := rows.Scan(&zoneID, &code); err != nil {
			return fmt.Errorf("scan location: %w", err)
		}
		if zone, ok := byID[zoneID]; ok {
			zone.Locations = append(zone.Locations, pricing.NewPostcodeLocation(code))
		}
	}
	return rows.Err()
}

func (s Store) methods(ctx context.Context, byID map[int]*pricing.ShippingZone) error {
	rows, err := s.Q.Query(ctx, listMethodsSQL)
	if err != nil {
		return fmt.Errorf("list methods: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			zoneID int
			method pricing.ShippingMethod
			cost   string
		)
		if err := rows.Scan(&zoneID, &method.ID, &method.Title, &method.Enabled, &cost, &method.DeliveryTime); err != nil {
			return fmt.Errorf("scan method: %w", err)
		}
		parsed, err := decimal.NewFromString(cost)
		if err != nil {
			return fmt.Errorf("method %s cost %q: %w", method.ID, cost, err)
		}
		method.Cost = parsed
		if zone, ok := byID[zoneID]; ok {
			zone.Methods = append(zone.Methods, method)
		}
	}
	return rows.Err()
}
