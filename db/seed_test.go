package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orders/internal/domain/promo"
)

func TestProducts(t *testing.T) {
	products, err := Products("USD")
	require.NoError(t, err)
	require.NotEmpty(t, products)

	first := products[0]
	assert.Equal(t, "waffle", first.ID)
	assert.Equal(t, int64(650), first.Price.Amount)
	assert.Equal(t, "USD", first.Price.Currency)
	for _, p := range products {
		assert.NotEmpty(t, p.SKU, p.ID)
		assert.Positive(t, p.Price.Amount, p.ID)
	}
}

func TestPromoCodes(t *testing.T) {
	rules, err := PromoCodes()
	require.NoError(t, err)

	byCode := make(map[string]promo.Rule, len(rules))
	for _, r := range rules {
		byCode[r.Code] = r
	}

	require.Contains(t, byCode, "SAVE1234")
	assert.Equal(t, promo.KindPercentage, byCode["SAVE1234"].Kind)
	assert.Equal(t, "10", byCode["SAVE1234"].Value.String())

	require.Contains(t, byCode, "SPRING2026")
	require.NotNil(t, byCode["SPRING2026"].ValidFrom)
	require.NotNil(t, byCode["SPRING2026"].ValidUntil)
	assert.True(t, byCode["SPRING2026"].ValidFrom.Before(*byCode["SPRING2026"].ValidUntil))

	assert.Equal(t, 1000, byCode["WELCOME15"].MaxUses)
}
