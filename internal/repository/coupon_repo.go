// Package repository implements all database queries for the coupon engine.
// It uses pgx directly (no ORM) for transparency and performance.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flashcoupon/coupon-engine/internal/model"
)

// CouponRepository handles persistence for coupon definitions.
type CouponRepository struct {
	db *pgxpool.Pool
}

// NewCouponRepository constructs a CouponRepository.
func NewCouponRepository(db *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{db: db}
}

// Create inserts a new coupon definition.
func (r *CouponRepository) Create(ctx context.Context, c *model.Coupon) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO coupons (id, name, type, discount_type, discount_value,
		                      total_quantity, start_at, end_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Name, c.Type, c.DiscountType, c.DiscountValue,
		c.TotalQuantity, c.StartAt, c.EndAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// Update persists administrative edits to a coupon definition.
func (r *CouponRepository) Update(ctx context.Context, c *model.Coupon) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE coupons
		 SET name = $2, type = $3, discount_type = $4, discount_value = $5,
		     total_quantity = $6, start_at = $7, end_at = $8, updated_at = $9
		 WHERE id = $1`,
		c.ID, c.Name, c.Type, c.DiscountType, c.DiscountValue,
		c.TotalQuantity, c.StartAt, c.EndAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// statsQuery joins the issued-coupon ledger to derive per-coupon counters.
// expiredCount includes ISSUED records past their expiry that the background
// sweep has not yet flipped, so readers never see a stale zero.
const statsQuery = `
	SELECT c.id, c.name, c.type, c.discount_type, c.discount_value,
	       c.total_quantity, c.start_at, c.end_at, c.created_at, c.updated_at,
	       COUNT(ic.id)                                            AS issued_count,
	       COUNT(ic.id) FILTER (WHERE ic.status = 'USED')          AS used_count,
	       COUNT(ic.id) FILTER (WHERE ic.status = 'EXPIRED'
	              OR (ic.status = 'ISSUED' AND ic.expires_at <= now())) AS expired_count
	FROM coupons c
	LEFT JOIN issued_coupons ic ON ic.coupon_id = c.id
`

func scanCouponWithStats(row pgx.Row) (*model.Coupon, error) {
	var c model.Coupon
	var issued, used, expired int
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.DiscountType, &c.DiscountValue,
		&c.TotalQuantity, &c.StartAt, &c.EndAt, &c.CreatedAt, &c.UpdatedAt,
		&issued, &used, &expired,
	)
	if err != nil {
		return nil, err
	}
	c.Stats = &model.CouponStats{
		IssuedCount:    issued,
		UsedCount:      used,
		RemainingCount: c.TotalQuantity - issued,
		ExpiredCount:   expired,
	}
	return &c, nil
}

// List returns all coupons with derived stats, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]model.Coupon, error) {
	rows, err := r.db.Query(ctx, statsQuery+` GROUP BY c.id ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []model.Coupon
	for rows.Next() {
		c, err := scanCouponWithStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

// GetByID returns a single coupon with derived stats, or ErrNotFound.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*model.Coupon, error) {
	row := r.db.QueryRow(ctx, statsQuery+` WHERE c.id = $1 GROUP BY c.id`, id)
	c, err := scanCouponWithStats(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// GetMeta returns a coupon definition without stats. This is the hot lookup
// on the issue path and is meant to sit behind the metadata cache.
func (r *CouponRepository) GetMeta(ctx context.Context, id string) (*model.Coupon, error) {
	var c model.Coupon
	err := r.db.QueryRow(ctx,
		`SELECT id, name, type, discount_type, discount_value,
		        total_quantity, start_at, end_at, created_at, updated_at
		 FROM coupons WHERE id = $1`,
		id,
	).Scan(
		&c.ID, &c.Name, &c.Type, &c.DiscountType, &c.DiscountValue,
		&c.TotalQuantity, &c.StartAt, &c.EndAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get coupon meta: %w", err)
	}
	return &c, nil
}

// IDs returns the ids of all coupons, used by full reconciliation.
func (r *CouponRepository) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM coupons`)
	if err != nil {
		return nil, fmt.Errorf("list coupon ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan coupon id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
