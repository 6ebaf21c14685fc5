package promo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// FilteredCatalog answers "unknown code" from a bloom filter of all known
// codes before asking the underlying catalog. Until the first Refresh every
// lookup goes to the catalog.
type FilteredCatalog struct {
	source interface {
		Catalog
		Lister
	}
	fpr    float64
	filter atomic.Pointer[bloom.BloomFilter]
	lg     *zap.Logger
}

var _ Catalog = (*FilteredCatalog)(nil)

// NewFilteredCatalog wraps source with a bloom filter tuned for the given
// false positive rate.
func NewFilteredCatalog(source interface {
	Catalog
	Lister
}, fpr float64, lg *zap.Logger) *FilteredCatalog {
	if fpr <= 0 || fpr >= 1 {
		fpr = 0.001
	}
	return &FilteredCatalog{source: source, fpr: fpr, lg: lg}
}

// Refresh rebuilds the filter from the source catalog.
func (c *FilteredCatalog) Refresh(ctx context.Context) error {
	codes, err := c.source.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list promo codes")
	}

	n := uint(len(codes))
	if n < 1024 {
		n = 1024
	}
	f := bloom.NewWithEstimates(n, c.fpr)
	for _, code := range codes {
		f.AddString(Normalize(code))
	}
	c.filter.Store(f)

	c.lg.Debug("Promo filter refreshed", zap.Int("codes", len(codes)))
	return nil
}

// Run refreshes the filter every interval until ctx is done. Refresh failures
// keep the previous filter. A non-positive interval disables refreshing.
func (c *FilteredCatalog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		c.lg.Info("Promo filter refresh disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.lg.Warn("Promo filter refresh failed", zap.Error(err))
			}
		}
	}
}

func (c *FilteredCatalog) FindByCode(ctx context.Context, code string) (*Rule, error) {
	if f := c.filter.Load(); f != nil && !f.TestString(Normalize(code)) {
		return nil, ErrUnknownCode
	}
	return c.source.FindByCode(ctx, code)
}

func (c *FilteredCatalog) Redeem(ctx context.Context, code string) error {
	return c.source.Redeem(ctx, code)
}
