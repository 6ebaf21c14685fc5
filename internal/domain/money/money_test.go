package money

import (
	"math"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		pct    string
		want   int64
	}{
		{name: "exact", amount: 10000, pct: "8.75", want: 875},
		{name: "round half up", amount: 1800, pct: "6.25", want: 113}, // 112.5
		{name: "round down", amount: 1799, pct: "6.25", want: 112},    // 112.4375
		{name: "ten percent", amount: 2000, pct: "10", want: 200},
		{name: "zero rate", amount: 2000, pct: "0", want: 0},
		{name: "full", amount: 999, pct: "100", want: 999},
		{name: "sub cent", amount: 1, pct: "49.99", want: 0},
		{name: "half cent", amount: 1, pct: "50", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.amount, "USD").Percent(decimal.RequireFromString(tt.pct))
			assert.Equal(t, tt.want, got.Amount)
			assert.Equal(t, "USD", got.Currency)
		})
	}
}

func TestAddSubPanicsOnCurrencyMismatch(t *testing.T) {
	usd := New(100, "USD")
	eur := New(100, "EUR")

	assert.Panics(t, func() { usd.Add(eur) })
	assert.Panics(t, func() { usd.Sub(eur) })
	assert.Equal(t, New(200, "USD"), usd.Add(usd))
	assert.Equal(t, Zero("USD"), usd.Sub(usd))
}

func TestCheckedOverflow(t *testing.T) {
	_, err := New(math.MaxInt64, "USD").AddChecked(New(1, "USD"))
	require.ErrorIs(t, err, ErrOverflow)

	_, err = New(math.MaxInt64/2+1, "USD").MulChecked(2)
	require.ErrorIs(t, err, ErrOverflow)

	got, err := New(1250, "USD").MulChecked(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3750), got.Amount)
}

func TestClamp(t *testing.T) {
	lo, hi := Zero("USD"), New(2000, "USD")

	assert.Equal(t, int64(0), New(-5, "USD").Clamp(lo, hi).Amount)
	assert.Equal(t, int64(2000), New(2500, "USD").Clamp(lo, hi).Amount)
	assert.Equal(t, int64(700), New(700, "USD").Clamp(lo, hi).Amount)
}

func TestDivRound(t *testing.T) {
	assert.Equal(t, int64(3334), New(10001, "USD").DivRound(3).Amount)
	assert.Equal(t, int64(5), New(9, "USD").DivRound(2).Amount)
	assert.Equal(t, int64(0), New(9, "USD").DivRound(0).Amount)
}

func TestString(t *testing.T) {
	assert.Equal(t, "USD 108.75", New(10875, "USD").String())
	assert.Equal(t, "JPY 500", New(500, "JPY").String())
}

func TestParseCurrency(t *testing.T) {
	got, err := ParseCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", got)

	_, err = ParseCurrency("XXZ1")
	require.True(t, errors.Is(err, ErrInvalidCurrency))
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		weights []int64
		want    []int64
	}{
		{name: "proportional", amount: 100, weights: []int64{1, 1, 2}, want: []int64{25, 25, 50}},
		{name: "largest remainder", amount: 10, weights: []int64{1, 1, 1}, want: []int64{4, 3, 3}},
		{name: "zero weights split evenly", amount: 5, weights: []int64{0, 0}, want: []int64{3, 2}},
		{name: "zero amount", amount: 0, weights: []int64{3, 4}, want: []int64{0, 0}},
		{name: "uneven", amount: 875, weights: []int64{6000, 4000}, want: []int64{525, 350}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Allocate(tt.amount, tt.weights)
			assert.Equal(t, tt.want, got)

			var sum int64
			for _, p := range got {
				sum += p
			}
			assert.Equal(t, tt.amount, sum)
		})
	}
}
