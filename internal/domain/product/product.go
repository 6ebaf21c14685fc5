package product

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a sellable catalog entry. When the order service is given a
// catalog its price is authoritative over client supplied prices.
type Product struct {
	ID       string
	SKU      string
	Name     string
	Price    money.Money
	Category string
	ImageURL string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products that exist; unknown ids are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
