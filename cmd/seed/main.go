package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	demoPlayerID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderPlayerID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func main() {
	env := getEnv("SPACE_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: SPACE_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "space_explorer")
	user := getEnv("POSTGRES_USER", "space")
	password := getEnv("POSTGRES_PASSWORD", "space")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedPlayers(ctx, pool); err != nil {
		log.Fatalf("seed players: %v", err)
	}
	fmt.Println("✓ Players seeded")

	if err := seedInventories(ctx, pool); err != nil {
		log.Fatalf("seed inventories: %v", err)
	}
	fmt.Println("✓ Inventories seeded")

	if err := seedOrders(ctx, pool); err != nil {
		log.Fatalf("seed orders: %v", err)
	}
	fmt.Println("✓ Demo orders seeded")

	fmt.Println("\n=== Seed Complete ===")
	fmt.Printf("demo player:   %s (1000 currency)\n", demoPlayerID)
	fmt.Printf("trader player: %s (500 currency, 200 ore)\n", traderPlayerID)
}

func seedPlayers(ctx context.Context, pool *pgxpool.Pool) error {
	players := []struct {
		id       uuid.UUID
		currency string
	}{
		{demoPlayerID, "1000"},
		{traderPlayerID, "500"},
	}
	for _, p := range players {
		_, err := pool.Exec(ctx, `
			INSERT INTO players (id, currency, created_at)
			VALUES ($1, $2, now())
			ON CONFLICT (id) DO NOTHING
		`, p.id, p.currency)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedInventories(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO inventories (player_id, resource_type, quantity)
		VALUES ($1, 'ore', 200)
		ON CONFLICT (player_id, resource_type) DO NOTHING
	`, traderPlayerID)
	return err
}

func seedOrders(ctx context.Context, pool *pgxpool.Pool) error {
	if os.Getenv("SEED_DEMO_ORDERS") != "1" {
		return nil
	}

	orders := []struct {
		playerID uuid.UUID
		side     string
		price    string
		quantity int64
	}{
		{traderPlayerID, "sell", "10", 50},
		{demoPlayerID, "buy", "9", 25},
	}
	for _, o := range orders {
		_, err := pool.Exec(ctx, `
			INSERT INTO market_orders (id, player_id, resource_type, side, price, quantity, filled_quantity, status)
			VALUES ($1, $2, 'ore', $3, $4, $5, 0, 'open')
		`, uuid.New(), o.playerID, o.side, o.price, o.quantity)
		if err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
