package promo

import (
	"context"
	"sort"
	"sync"
)

// StaticCatalog is an in-memory Catalog.
type StaticCatalog struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

var (
	_ Catalog = (*StaticCatalog)(nil)
	_ Lister  = (*StaticCatalog)(nil)
)

// NewStaticCatalog returns a catalog holding rules, keyed by normalized code.
func NewStaticCatalog(rules ...Rule) *StaticCatalog {
	c := &StaticCatalog{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		r.Code = Normalize(r.Code)
		c.rules[r.Code] = r
	}
	return c
}

func (c *StaticCatalog) FindByCode(_ context.Context, code string) (*Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rules[Normalize(code)]
	if !ok {
		return nil, ErrUnknownCode
	}
	return &r, nil
}

func (c *StaticCatalog) Redeem(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	code = Normalize(code)
	r, ok := c.rules[code]
	if !ok {
		return ErrUnknownCode
	}
	r.Uses++
	c.rules[code] = r
	return nil
}

func (c *StaticCatalog) ListCodes(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	codes := make([]string, 0, len(c.rules))
	for code := range c.rules {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
