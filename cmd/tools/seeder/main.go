package main

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/app"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/zones"
)

type seedMethod struct {
	MethodID     string
	Title        string
	Enabled      bool
	Cost         string
	DeliveryTime string
}

type seedZone struct {
	ID        int
	Name      string
	SortOrder int
	Locations []string
	Methods   []seedMethod
}

var sampleZones = []seedZone{
	{
		ID: 1, Name: "Jakarta", SortOrder: 1,
		Locations: []string{"10000...14999"},
		Methods: []seedMethod{
			{"flat_rate", "Same day courier", true, "15.00", "same day"},
			{"flat_rate", "Regular", true, "9.00", "1-2 business days"},
		},
	},
	{
		ID: 2, Name: "Bandung", SortOrder: 2,
		Locations: []string{"40*"},
		Methods: []seedMethod{
			{"flat_rate", "Regular", true, "12.00", "2-3 business days"},
		},
	},
	{
		ID: 3, Name: "Surabaya", SortOrder: 3,
		Locations: []string{"60111-60299", "60300"},
		Methods: []seedMethod{
			{"flat_rate", "Express", false, "25.00", "next day"},
			{"flat_rate", "Regular", true, "14.00", "2-4 business days"},
		},
	},
	{
		ID: 0, Name: "Rest of Indonesia", SortOrder: 2147483647,
		Methods: []seedMethod{
			{"flat_rate", "Nationwide", true, "30.00", "4-7 business days"},
		},
	},
}

func main() {
	cfg := config.MustLoad()
	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	if err := db.Migrate(dbURL); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, z := range sampleZones {
		if err := seedZoneRows(ctx, tx, z); err != nil {
			log.Fatalf("Failed to seed zone %s: %v", z.Name, err)
		}
		log.Printf("Seeded zone %d %s (%d locations, %d methods)", z.ID, z.Name, len(z.Locations), len(z.Methods))
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}
	invalidateZoneCache(ctx, cfg.RedisURL)
	log.Println("Seeding completed successfully!")
}

// invalidateZoneCache drops the cached snapshot so the next quote reads the
// seeded rows.
func invalidateZoneCache(ctx context.Context, redisURL string) {
	rdb, err := app.NewRedis(ctx, redisURL, nil, zerolog.Nop())
	if err != nil {
		log.Printf("Skipping zone cache invalidation: %v", err)
		return
	}
	defer func() { _ = rdb.Close() }()
	cache := zones.Cache{Client: rdb, Key: zones.DefaultCacheKey}
	if err := cache.Invalidate(ctx); err != nil {
		log.Printf("Failed to invalidate zone cache: %v", err)
		return
	}
	log.Println("Zone cache invalidated")
}

// seedZoneRows replaces a zone with the given locations and methods.
func seedZoneRows(ctx context.Context, tx pgx.Tx, z seedZone) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO shipping_zones (id, name, sort_order)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, sort_order = EXCLUDED.sort_order, updated_at = now();
	`, z.ID, z.Name, z.SortOrder); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM shipping_zone_locations WHERE zone_id = $1`, z.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM shipping_zone_methods WHERE zone_id = $1`, z.ID); err != nil {
		return err
	}
	for i, code := range z.Locations {
		if _, err := tx.Exec(ctx, `
			INSERT INTO shipping_zone_locations (zone_id, code, position) VALUES ($1, $2, $3);
		`, z.ID, code, i); err != nil {
			return err
		}
	}
	for i, m := range z.Methods {
		if _, err := tx.Exec(ctx, `
			INSERT INTO shipping_zone_methods (zone_id, method_id, title, enabled, cost, delivery_time, position)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7);
		`, z.ID, m.MethodID, m.Title, m.Enabled, m.Cost, m.DeliveryTime, i); err != nil {
			return err
		}
	}
	return nil
}
