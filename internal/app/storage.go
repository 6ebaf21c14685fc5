package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/db"
	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
	"github.com/xenking/oolio-orders/internal/domain/promo"
	"github.com/xenking/oolio-orders/internal/storage/memory"
	"github.com/xenking/oolio-orders/internal/storage/postgres"
)

// storage groups the repositories the server depends on.
type storage struct {
	pool     *pgxpool.Pool // nil for in-memory storage
	orders   order.Repository
	products product.Repository
	apikeys  auth.Repository
	promos   interface {
		promo.Catalog
		promo.Lister
	}
}

func (s *storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// openStorage connects to PostgreSQL and applies migrations, or falls back to
// in-memory repositories loaded with the seed catalog when no database URL is
// configured.
func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*storage, error) {
	if cfg.DatabaseURL == "" {
		lg.Warn("No database configured, using in-memory storage")
		return memoryStorage(cfg.Currency)
	}

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	return &storage{
		pool:     pool,
		orders:   postgres.NewOrderRepository(pool),
		products: postgres.NewProductRepository(pool),
		apikeys:  postgres.NewAPIKeyRepository(pool),
		promos:   postgres.NewPromoRepository(pool),
	}, nil
}

func memoryStorage(cur string) (*storage, error) {
	products, err := db.Products(cur)
	if err != nil {
		return nil, err
	}
	rules, err := db.PromoCodes()
	if err != nil {
		return nil, err
	}
	return &storage{
		orders:   memory.NewOrderRepository(),
		products: memory.NewProductRepository(products...),
		apikeys:  memory.NewAPIKeyRepository(),
		promos:   promo.NewStaticCatalog(rules...),
	}, nil
}
