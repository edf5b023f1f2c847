// Command seed-db provisions a development database: a demo studio with a
// gallery session and photos, an active pricing policy, and a staff API key.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/proofroom/proofroom/internal/repository"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
		photoCount   int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "staff API key to seed (or STUDIO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STUDIO_API_KEY_PEPPER env)")
	flag.IntVar(&photoCount, "photos", 30, "number of demo photos to seed")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STUDIO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STUDIO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STUDIO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper, photoCount); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string, photoCount int) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedStudio(ctx, pool, photoCount); err != nil {
		return errors.Wrap(err, "seed studio")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedStudio(ctx context.Context, pool *pgxpool.Pool, photoCount int) error {
	slog.Info("seeding demo studio")

	if _, err := pool.Exec(ctx,
		`INSERT INTO studios (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		"demo-studio", "Demo Studio",
	); err != nil {
		return errors.Wrap(err, "upsert studio")
	}

	expiresAt := time.Now().UTC().Add(30 * 24 * time.Hour)
	if _, err := pool.Exec(ctx,
		`INSERT INTO sessions (id, studio_id, name, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		"demo-session", "demo-studio", "Demo shoot", expiresAt,
	); err != nil {
		return errors.Wrap(err, "upsert session")
	}

	for i := 1; i <= photoCount; i++ {
		id := fmt.Sprintf("demo-photo-%03d", i)
		if _, err := pool.Exec(ctx,
			`INSERT INTO photos (id, session_id, file_key, expires_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			id, "demo-session", fmt.Sprintf("demo/%s.jpg", id), expiresAt,
		); err != nil {
			return errors.Wrapf(err, "upsert photo %s", id)
		}
	}
	slog.Info("seeded photos", slog.Int("count", photoCount))

	// One active policy per studio; the partial unique index enforces it.
	if _, err := pool.Exec(ctx,
		`INSERT INTO pricing_policies (id, studio_id, price_per_unit, bulk_discount_threshold, bulk_discount_percent, active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 ON CONFLICT (id) DO NOTHING`,
		"demo-policy", "demo-studio", decimal.RequireFromString("5.00"), 20, decimal.RequireFromString("15.00"),
	); err != nil {
		return errors.Wrap(err, "upsert pricing policy")
	}
	slog.Info("seeded pricing policy",
		slog.String("price_per_unit", "5.00"),
		slog.Int("bulk_threshold", 20),
		slog.String("bulk_percent", "15.00"),
	)

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding staff API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx,
		`INSERT INTO api_keys (id, key_hash, name, studio_id, scopes, active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash`,
		"demo-staff", keyHash, "Demo staff key", "demo-studio",
		[]string{"orders:read", "orders:write"},
	); err != nil {
		return errors.Wrap(err, "upsert API key")
	}

	slog.Info("upserted API key", slog.String("id", "demo-staff"), slog.String("studio", "demo-studio"))

	return nil
}
