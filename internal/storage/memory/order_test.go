package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/money"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

var day = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func newOrder(id, email string, total int64, createdAt time.Time) *order.Order {
	usd := func(v int64) money.Money { return money.New(v, "USD") }
	return &order.Order{
		ID:                id,
		Number:            "OO-" + id,
		Customer:          order.Customer{Email: email},
		Status:            order.StatusPaid,
		PaymentStatus:     order.PaymentCompleted,
		FulfillmentStatus: order.FulfillmentUnfulfilled,
		Currency:          "USD",
		Subtotal:          usd(total),
		ShippingTotal:     usd(0),
		TaxTotal:          usd(0),
		DiscountTotal:     usd(0),
		Total:             usd(total),
		TotalRefunded:     usd(0),
		Items: []order.Item{{
			ID: id + "-item", UnitPrice: usd(total), Quantity: 1,
			Subtotal: usd(total), Discount: usd(0), Tax: usd(0), Total: usd(total),
			FulfillmentStatus: order.FulfillmentUnfulfilled,
		}},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()

	o := newOrder("o1", "a@example.com", 1000, day)
	o.IdempotencyKey = "key-1"
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, o, got)

	got.Items[0].Quantity = 99
	again, err := repo.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity, "reads must be copies")

	byKey, err := repo.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "o1", byKey.ID)

	dup := newOrder("o2", "a@example.com", 1000, day)
	dup.IdempotencyKey = "key-1"
	require.ErrorIs(t, repo.Create(ctx, dup), order.ErrDuplicateOrder)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
	_, err = repo.GetByIdempotencyKey(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	o := newOrder("o1", "a@example.com", 5000, day)
	require.NoError(t, repo.Create(ctx, o))

	next := o.Clone()
	refund := order.Refund{ID: "r1", Amount: money.New(1000, "USD")}
	require.NoError(t, next.ApplyRefund(refund, day))
	p := order.PatchFrom(next, 0)
	stored, _ := next.FindRefund("r1")
	p.AddRefund = &stored

	updated, err := repo.Update(ctx, "o1", p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, order.StatusPartiallyRefunded, updated.Status)
	require.Len(t, updated.Refunds, 1)
	require.NoError(t, updated.CheckInvariants())

	_, err = repo.Update(ctx, "o1", p)
	require.ErrorIs(t, err, order.ErrConflict)

	p.ExpectedVersion = 1
	_, err = repo.Update(ctx, "o1", p)
	require.ErrorIs(t, err, order.ErrDuplicateRefund)

	_, err = repo.Update(ctx, "missing", p)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_ListByCustomer(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	for i, id := range []string{"o1", "o2", "o3"} {
		require.NoError(t, repo.Create(ctx, newOrder(id, "a@example.com", 1000, day.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, repo.Create(ctx, newOrder("x", "b@example.com", 1000, day)))

	orders, err := repo.ListByCustomer(ctx, "A@example.com", order.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o3", orders[0].ID)
	assert.Equal(t, "o2", orders[1].ID)

	orders, err = repo.ListByCustomer(ctx, "a@example.com", order.ListFilter{Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].ID)

	orders, err = repo.ListByCustomer(ctx, "a@example.com", order.ListFilter{Status: order.StatusCancelled})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOrderRepository_Metrics(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Create(ctx, newOrder("o1", "a@example.com", 1000, day)))
	require.NoError(t, repo.Create(ctx, newOrder("o2", "a@example.com", 2500, day.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, newOrder("o3", "a@example.com", 9999, day.Add(24*time.Hour))))

	snap, err := repo.Metrics(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.OrderCount)
	assert.Equal(t, int64(3500), snap.Revenue)
	assert.Equal(t, int64(2), snap.ByStatus[order.StatusPaid])
}

func TestOrderRepository_NextSequence(t *testing.T) {
	repo := NewOrderRepository()
	a, err := repo.NextSequence(context.Background())
	require.NoError(t, err)
	b, err := repo.NextSequence(context.Background())
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(
		product.Product{ID: "b", Name: "B", Price: money.New(200, "USD")},
		product.Product{ID: "a", Name: "A", Price: money.New(100, "USD")},
	)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	found, err := repo.GetByIDs(ctx, []string{"a", "a", "missing"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestAPIKeyRepository(t *testing.T) {
	pepper := []byte("pepper")
	repo := NewAPIKeyRepository(auth.APIKeyInfo{ID: "k1", KeyHash: auth.HashKey(pepper, "secret"), Scopes: []string{auth.ScopeRefunds}})

	info, err := repo.FindByHash(context.Background(), auth.HashKey(pepper, "secret"))
	require.NoError(t, err)
	assert.Equal(t, "k1", info.ID)
	assert.True(t, info.Allows(auth.ScopeRefunds))
	assert.False(t, info.Allows(auth.ScopeMetrics))

	_, err = repo.FindByHash(context.Background(), auth.HashKey(pepper, "other"))
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}
