package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-orders/internal/domain/promo"
)

const (
	getPromoSQL = `SELECT code, kind, value, description, valid_from, valid_until, max_uses, uses
		FROM promo_codes WHERE code = $1 AND active`

	redeemPromoSQL = `UPDATE promo_codes SET uses = uses + 1
		WHERE code = $1 AND active AND (max_uses = 0 OR uses < max_uses)`

	promoExistsSQL = `SELECT EXISTS (SELECT 1 FROM promo_codes WHERE code = $1 AND active)`

	listPromoCodesSQL = `SELECT code FROM promo_codes WHERE active ORDER BY code`

	upsertPromoSQL = `INSERT INTO promo_codes (code, kind, value, description, valid_from, valid_until, max_uses)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind, value = EXCLUDED.value, description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses, active = TRUE`
)

var (
	_ promo.Catalog = (*PromoRepository)(nil)
	_ promo.Lister  = (*PromoRepository)(nil)
)

// PromoRepository implements promo.Catalog backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Rule, error) {
	rows, err := r.pool.Query(ctx, getPromoSQL, promo.Normalize(code))
	if err != nil {
		return nil, fmt.Errorf("getting promo code: %w", err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (promo.Rule, error) {
		var r promo.Rule
		err := row.Scan(&r.Code, &r.Kind, &r.Value, &r.Description, &r.ValidFrom, &r.ValidUntil, &r.MaxUses, &r.Uses)
		return r, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrUnknownCode
		}
		return nil, fmt.Errorf("getting promo code: %w", err)
	}
	return &rule, nil
}

// Redeem increments the use counter unless the code is exhausted.
func (r *PromoRepository) Redeem(ctx context.Context, code string) error {
	code = promo.Normalize(code)
	tag, err := r.pool.Exec(ctx, redeemPromoSQL, code)
	if err != nil {
		return fmt.Errorf("redeeming promo code: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, promoExistsSQL, code).Scan(&exists); err != nil {
		return fmt.Errorf("redeeming promo code: %w", err)
	}
	if !exists {
		return promo.ErrUnknownCode
	}
	return promo.ErrUsageLimitReached
}

func (r *PromoRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPromoCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	return codes, nil
}

// Upsert inserts or replaces rules in one batch. Use counters survive.
func (r *PromoRepository) Upsert(ctx context.Context, rules []promo.Rule) error {
	b := &pgx.Batch{}
	for _, rule := range rules {
		b.Queue(upsertPromoSQL,
			promo.Normalize(rule.Code), rule.Kind, rule.Value, rule.Description,
			rule.ValidFrom, rule.ValidUntil, rule.MaxUses,
		)
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting promo codes: %w", err)
	}
	return nil
}
