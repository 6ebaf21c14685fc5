package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orders/internal/domain/money"
	"github.com/xenking/oolio-orders/internal/domain/order"
)

const (
	orderColumns = `id, number, customer_id, customer_email, customer_phone,
		status, payment_status, fulfillment_status, currency,
		subtotal, shipping_total, tax_total, discount_total, total, total_refunded,
		payment_method, payment_intent_id, payment_charge_id, payment_amount,
		card_brand, card_last4, receipt_url, failure_message, paid_at,
		shipping_method, shipping_cost, carrier, tracking_number, tracking_url, shipped_at, delivered_at,
		COALESCE(idempotency_key, ''), version, created_at, updated_at, processed_at`

	insertOrderSQL = `INSERT INTO orders (
		id, number, customer_id, customer_email, customer_phone,
		status, payment_status, fulfillment_status, currency,
		subtotal, shipping_total, tax_total, discount_total, total, total_refunded,
		payment_method, payment_intent_id, payment_charge_id, payment_amount,
		card_brand, card_last4, receipt_url, failure_message, paid_at,
		shipping_method, shipping_cost, carrier, tracking_number, tracking_url, shipped_at, delivered_at,
		idempotency_key, version, created_at, updated_at, processed_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, NULLIF($32::TEXT, ''), $33, $34, $35, $36
	)`

	insertAddressSQL = `INSERT INTO order_addresses (
		order_id, kind, first_name, last_name, company, line1, line2, city, state, postal_code, country, phone, residential
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	insertItemSQL = `INSERT INTO order_items (
		id, order_id, position, product_id, sku, name, image_url, unit_price, quantity,
		subtotal, discount, tax, total, fulfillment_status, fulfilled_quantity
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertDiscountSQL = `INSERT INTO order_discounts (
		order_id, position, code, kind, value, amount_saved, description, referral, active, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertRefundSQL = `INSERT INTO order_refunds (
		order_id, id, amount, reason, status, gateway_refund_id, processed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (order_id, id) DO NOTHING`

	insertNoteSQL = `INSERT INTO order_notes (order_id, body, created_at) VALUES ($1, $2, $3)`

	updateOrderSQL = `UPDATE orders SET
		status = $3, payment_status = $4, fulfillment_status = $5, total_refunded = $6,
		payment_intent_id = $7, payment_charge_id = $8, payment_amount = $9,
		card_brand = $10, card_last4 = $11, receipt_url = $12, failure_message = $13, paid_at = $14,
		carrier = $15, tracking_number = $16, tracking_url = $17, shipped_at = $18, delivered_at = $19,
		processed_at = $20, updated_at = $21, version = version + 1
	WHERE id = $1 AND version = $2`

	updateItemSQL = `UPDATE order_items SET fulfillment_status = $3, fulfilled_quantity = $4
	WHERE order_id = $1 AND id = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	nextSequenceSQL = `SELECT nextval('order_number_seq')`

	metricsTotalsSQL = `SELECT count(*), COALESCE(sum(total), 0)::BIGINT
		FROM orders WHERE created_at >= $1 AND created_at < $2`

	metricsByStatusSQL = `SELECT status, count(*)
		FROM orders WHERE created_at >= $1 AND created_at < $2 GROUP BY status`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. An
// order spans several tables; writes happen in one transaction and reads in
// one repeatable-read snapshot.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) NextSequence(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, nextSequenceSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	return n, nil
}

// Create persists the order with its addresses, items, discounts and notes.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Number, o.Customer.ID, o.Customer.Email, o.Customer.Phone,
			o.Status, o.PaymentStatus, o.FulfillmentStatus, o.Currency,
			o.Subtotal.Amount, o.ShippingTotal.Amount, o.TaxTotal.Amount, o.DiscountTotal.Amount,
			o.Total.Amount, o.TotalRefunded.Amount,
			o.Payment.Method, o.Payment.IntentID, o.Payment.ChargeID, o.Payment.Amount.Amount,
			o.Payment.CardBrand, o.Payment.CardLast4, o.Payment.ReceiptURL, o.Payment.FailureMessage, o.Payment.PaidAt,
			o.Shipment.Method, o.Shipment.Cost.Amount, o.Shipment.Carrier, o.Shipment.TrackingNumber,
			o.Shipment.TrackingURL, o.Shipment.ShippedAt, o.Shipment.DeliveredAt,
			o.IdempotencyKey, o.Version, o.CreatedAt, o.UpdatedAt, o.ProcessedAt,
		)
		if err != nil {
			return err
		}

		b := &pgx.Batch{}
		queueAddress(b, o.ID, "billing", o.BillingAddress)
		queueAddress(b, o.ID, "shipping", o.ShippingAddress)
		for i, it := range o.Items {
			b.Queue(insertItemSQL,
				it.ID, o.ID, i, it.ProductID, it.SKU, it.Name, it.ImageURL, it.UnitPrice.Amount, it.Quantity,
				it.Subtotal.Amount, it.Discount.Amount, it.Tax.Amount, it.Total.Amount,
				it.FulfillmentStatus, it.FulfilledQuantity,
			)
		}
		for i, d := range o.Discounts {
			b.Queue(insertDiscountSQL,
				o.ID, i, d.Code, d.Kind, d.Value, d.AmountSaved.Amount, d.Description, d.Referral, d.Active, d.CreatedAt,
			)
		}
		for _, rf := range o.Refunds {
			queueRefund(b, o.ID, rf)
		}
		for _, n := range o.Notes {
			b.Queue(insertNoteSQL, o.ID, n.Body, n.CreatedAt)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		if isUniqueViolation(err, "orders_idempotency_key_key") {
			return order.ErrDuplicateOrder
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func queueAddress(b *pgx.Batch, orderID, kind string, a order.Address) {
	b.Queue(insertAddressSQL,
		orderID, kind, a.FirstName, a.LastName, a.Company, a.Line1, a.Line2,
		a.City, a.State, a.PostalCode, a.Country, a.Phone, a.Residential,
	)
}

func queueRefund(b *pgx.Batch, orderID string, rf order.Refund) {
	b.Queue(insertRefundSQL,
		orderID, rf.ID, rf.Amount.Amount, rf.Reason, rf.Status, rf.GatewayRefundID, rf.ProcessedAt,
	)
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	orders, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if len(orders) == 0 {
		return nil, order.ErrNotFound
	}
	return orders[0], nil
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	orders, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("getting order by idempotency key: %w", err)
	}
	if len(orders) == 0 {
		return nil, order.ErrNotFound
	}
	return orders[0], nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, email string, f order.ListFilter) ([]*order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders
		WHERE lower(customer_email) = lower($1) AND ($2::TEXT = '' OR status = $2::TEXT)
		ORDER BY created_at DESC, number DESC`
	args := []any{email, string(f.Status)}
	if f.Limit > 0 {
		q += ` LIMIT $3 OFFSET $4`
		args = append(args, f.Limit, f.Offset)
	} else {
		q += ` OFFSET $3`
		args = append(args, f.Offset)
	}

	orders, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// query loads orders and their child rows in one read-only snapshot.
func (r *OrderRepository) query(ctx context.Context, sql string, args ...any) ([]*order.Order, error) {
	var orders []*order.Order
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		var err error
		orders, err = loadOrders(ctx, tx, sql, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func loadOrders(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]*order.Order, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
	}
	if err := loadChildren(ctx, tx, ids, byID); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o                                                       order.Order
		subtotal, shipping, tax, discount, total, refunded, paid int64
		shippingCost                                            int64
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Customer.ID, &o.Customer.Email, &o.Customer.Phone,
		&o.Status, &o.PaymentStatus, &o.FulfillmentStatus, &o.Currency,
		&subtotal, &shipping, &tax, &discount, &total, &refunded,
		&o.Payment.Method, &o.Payment.IntentID, &o.Payment.ChargeID, &paid,
		&o.Payment.CardBrand, &o.Payment.CardLast4, &o.Payment.ReceiptURL, &o.Payment.FailureMessage, &o.Payment.PaidAt,
		&o.Shipment.Method, &shippingCost, &o.Shipment.Carrier, &o.Shipment.TrackingNumber, &o.Shipment.TrackingURL,
		&o.Shipment.ShippedAt, &o.Shipment.DeliveredAt,
		&o.IdempotencyKey, &o.Version, &o.CreatedAt, &o.UpdatedAt, &o.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	cur := o.Currency
	o.Subtotal = money.New(subtotal, cur)
	o.ShippingTotal = money.New(shipping, cur)
	o.TaxTotal = money.New(tax, cur)
	o.DiscountTotal = money.New(discount, cur)
	o.Total = money.New(total, cur)
	o.TotalRefunded = money.New(refunded, cur)
	o.Payment.Amount = money.New(paid, cur)
	o.Shipment.Cost = money.New(shippingCost, cur)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func loadChildren(ctx context.Context, tx pgx.Tx, ids []string, byID map[string]*order.Order) error {
	rows, err := tx.Query(ctx, `SELECT order_id, kind, first_name, last_name, company, line1, line2,
		city, state, postal_code, country, phone, residential
		FROM order_addresses WHERE order_id = ANY($1::UUID[])`, ids)
	if err != nil {
		return fmt.Errorf("loading addresses: %w", err)
	}
	var (
		orderID, kind string
		a             order.Address
	)
	_, err = pgx.ForEachRow(rows, []any{
		&orderID, &kind, &a.FirstName, &a.LastName, &a.Company, &a.Line1, &a.Line2,
		&a.City, &a.State, &a.PostalCode, &a.Country, &a.Phone, &a.Residential,
	}, func() error {
		o := byID[orderID]
		if kind == "billing" {
			o.BillingAddress = a
		} else {
			o.ShippingAddress = a
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading addresses: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT order_id, id, product_id, sku, name, image_url, unit_price, quantity,
		subtotal, discount, tax, total, fulfillment_status, fulfilled_quantity
		FROM order_items WHERE order_id = ANY($1::UUID[]) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("loading items: %w", err)
	}
	var (
		it                                       order.Item
		unit, itemSub, itemDisc, itemTax, itemTot int64
	)
	_, err = pgx.ForEachRow(rows, []any{
		&orderID, &it.ID, &it.ProductID, &it.SKU, &it.Name, &it.ImageURL, &unit, &it.Quantity,
		&itemSub, &itemDisc, &itemTax, &itemTot, &it.FulfillmentStatus, &it.FulfilledQuantity,
	}, func() error {
		o := byID[orderID]
		cur := o.Currency
		it.UnitPrice = money.New(unit, cur)
		it.Subtotal = money.New(itemSub, cur)
		it.Discount = money.New(itemDisc, cur)
		it.Tax = money.New(itemTax, cur)
		it.Total = money.New(itemTot, cur)
		o.Items = append(o.Items, it)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading items: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT order_id, code, kind, value, amount_saved, description, referral, active, created_at
		FROM order_discounts WHERE order_id = ANY($1::UUID[]) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("loading discounts: %w", err)
	}
	var (
		d     order.Discount
		saved int64
	)
	_, err = pgx.ForEachRow(rows, []any{
		&orderID, &d.Code, &d.Kind, &d.Value, &saved, &d.Description, &d.Referral, &d.Active, &d.CreatedAt,
	}, func() error {
		o := byID[orderID]
		d.AmountSaved = money.New(saved, o.Currency)
		d.CreatedAt = d.CreatedAt.UTC()
		o.Discounts = append(o.Discounts, d)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading discounts: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT order_id, id, amount, reason, status, gateway_refund_id, processed_at
		FROM order_refunds WHERE order_id = ANY($1::UUID[]) ORDER BY order_id, processed_at, id`, ids)
	if err != nil {
		return fmt.Errorf("loading refunds: %w", err)
	}
	var (
		rf     order.Refund
		amount int64
	)
	_, err = pgx.ForEachRow(rows, []any{
		&orderID, &rf.ID, &amount, &rf.Reason, &rf.Status, &rf.GatewayRefundID, &rf.ProcessedAt,
	}, func() error {
		o := byID[orderID]
		rf.Amount = money.New(amount, o.Currency)
		rf.ProcessedAt = rf.ProcessedAt.UTC()
		o.Refunds = append(o.Refunds, rf)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading refunds: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT order_id, body, created_at
		FROM order_notes WHERE order_id = ANY($1::UUID[]) ORDER BY order_id, id`, ids)
	if err != nil {
		return fmt.Errorf("loading notes: %w", err)
	}
	var n order.Note
	_, err = pgx.ForEachRow(rows, []any{&orderID, &n.Body, &n.CreatedAt}, func() error {
		n.CreatedAt = n.CreatedAt.UTC()
		byID[orderID].Notes = append(byID[orderID].Notes, n)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading notes: %w", err)
	}
	return nil
}

// Update applies p in one transaction guarded by the version column.
func (r *OrderRepository) Update(ctx context.Context, id string, p order.Patch) (*order.Order, error) {
	var updated *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateOrderSQL,
			id, p.ExpectedVersion,
			p.Status, p.PaymentStatus, p.FulfillmentStatus, p.TotalRefunded.Amount,
			p.Payment.IntentID, p.Payment.ChargeID, p.Payment.Amount.Amount,
			p.Payment.CardBrand, p.Payment.CardLast4, p.Payment.ReceiptURL, p.Payment.FailureMessage, p.Payment.PaidAt,
			p.Shipment.Carrier, p.Shipment.TrackingNumber, p.Shipment.TrackingURL, p.Shipment.ShippedAt, p.Shipment.DeliveredAt,
			p.ProcessedAt, p.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrConflict
		}

		if p.AddRefund != nil {
			rf := p.AddRefund
			tag, err := tx.Exec(ctx, insertRefundSQL,
				id, rf.ID, rf.Amount.Amount, rf.Reason, rf.Status, rf.GatewayRefundID, rf.ProcessedAt,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return order.ErrDuplicateRefund
			}
		}

		b := &pgx.Batch{}
		for _, f := range p.Items {
			b.Queue(updateItemSQL, id, f.ItemID, f.Status, f.FulfilledQuantity)
		}
		if p.AddNote != nil {
			b.Queue(insertNoteSQL, id, p.AddNote.Body, p.AddNote.CreatedAt)
		}
		if b.Len() > 0 {
			if err := tx.SendBatch(ctx, b).Close(); err != nil {
				return err
			}
		}

		orders, err := loadOrders(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
		if err != nil {
			return err
		}
		updated = orders[0]
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound), errors.Is(err, order.ErrConflict), errors.Is(err, order.ErrDuplicateRefund):
			return nil, err
		default:
			return nil, fmt.Errorf("updating order %q: %w", id, err)
		}
	}
	return updated, nil
}

// Metrics runs the totals and per-status queries concurrently.
func (r *OrderRepository) Metrics(ctx context.Context, from, to time.Time) (order.MetricsSnapshot, error) {
	snap := order.MetricsSnapshot{ByStatus: make(map[order.Status]int64)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.pool.QueryRow(gctx, metricsTotalsSQL, from, to).Scan(&snap.OrderCount, &snap.Revenue)
	})

	byStatus := make(map[order.Status]int64)
	g.Go(func() error {
		rows, err := r.pool.Query(gctx, metricsByStatusSQL, from, to)
		if err != nil {
			return err
		}
		var (
			status string
			count  int64
		)
		_, err = pgx.ForEachRow(rows, []any{&status, &count}, func() error {
			byStatus[order.Status(status)] = count
			return nil
		})
		return err
	})

	if err := g.Wait(); err != nil {
		return order.MetricsSnapshot{}, fmt.Errorf("order metrics: %w", err)
	}
	snap.ByStatus = byStatus
	return snap, nil
}
