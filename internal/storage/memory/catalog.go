package memory

import (
	"context"
	"crypto/subtle"
	"slices"
	"strings"
	"sync"

	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ auth.Repository    = (*APIKeyRepository)(nil)
)

// ProductRepository is a fixed product catalog.
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]product.Product
}

// NewProductRepository returns a catalog holding products.
func NewProductRepository(products ...product.Product) *ProductRepository {
	r := &ProductRepository{products: make(map[string]product.Product, len(products))}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

// Put adds or replaces a product.
func (r *ProductRepository) Put(p product.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

func (r *ProductRepository) List(context.Context) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]product.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b product.Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]product.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// APIKeyRepository holds API keys by hash.
type APIKeyRepository struct {
	keys []auth.APIKeyInfo
}

// NewAPIKeyRepository returns a repository holding keys.
func NewAPIKeyRepository(keys ...auth.APIKeyInfo) *APIKeyRepository {
	return &APIKeyRepository{keys: keys}
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	for _, k := range r.keys {
		if subtle.ConstantTimeCompare([]byte(k.KeyHash), []byte(hash)) == 1 {
			info := k
			return &info, nil
		}
	}
	return nil, auth.ErrKeyNotFound
}
