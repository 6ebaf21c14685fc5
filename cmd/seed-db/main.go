// Command seed-db applies migrations and loads the sample product catalog,
// the default promo codes and an admin API key.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/db"
	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/storage/postgres"
)

type seedConfig struct {
	currency string
	apiKey   string
	pepper   string
	scopes   []string
}

func main() {
	var (
		databaseURL string
		cfg         seedConfig
		scopes      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.currency, "currency", "USD", "currency of seeded product prices")
	flag.StringVar(&cfg.apiKey, "api-key", "", "API key to seed (or ORDERS_SEED_API_KEY env)")
	flag.StringVar(&cfg.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or ORDERS_API_KEY_PEPPER env)")
	flag.StringVar(&scopes, "scopes", auth.ScopeAll, "comma-separated scopes of the seeded key")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("ORDERS_SEED_API_KEY")
	}
	if cfg.apiKey == "" {
		slog.Error("API key is required: set --api-key or ORDERS_SEED_API_KEY")
		os.Exit(1)
	}
	if cfg.pepper == "" {
		cfg.pepper = os.Getenv("ORDERS_API_KEY_PEPPER")
	}
	cfg.scopes = splitScopes(scopes)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func splitScopes(s string) []string {
	var out []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}

func run(ctx context.Context, databaseURL string, cfg seedConfig) error {
	slog.Info("running migrations")
	if err := postgres.RunMigrations(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	products, err := db.Products(cfg.currency)
	if err != nil {
		return err
	}
	if err := postgres.NewProductRepository(pool).Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	slog.Info("upserted products", slog.Int("count", len(products)))

	rules, err := db.PromoCodes()
	if err != nil {
		return err
	}
	if err := postgres.NewPromoRepository(pool).Upsert(ctx, rules); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}
	slog.Info("upserted promo codes", slog.Int("count", len(rules)))

	key := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(cfg.pepper), cfg.apiKey),
		Name:    "Default admin key",
		Scopes:  cfg.scopes,
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("upserted API key",
		slog.String("id", key.ID),
		slog.String("scopes", strings.Join(key.Scopes, ",")),
	)
	return nil
}
