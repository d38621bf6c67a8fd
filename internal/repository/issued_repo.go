package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flashcoupon/coupon-engine/internal/model"
)

// IssuedCouponRepository handles persistence for the issued-coupon ledger.
type IssuedCouponRepository struct {
	db *pgxpool.Pool
}

// NewIssuedCouponRepository constructs an IssuedCouponRepository.
func NewIssuedCouponRepository(db *pgxpool.Pool) *IssuedCouponRepository {
	return &IssuedCouponRepository{db: db}
}

// Insert records a successful admission in the ledger. The write is idempotent
// on the (coupon_id, user_id) unique key: a retried write after a transient
// failure, or a duplicate persist raced by reconciliation, lands as a no-op
// rather than an error.
func (r *IssuedCouponRepository) Insert(ctx context.Context, ic *model.IssuedCoupon) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO issued_coupons (id, coupon_id, user_id, status, issued_at, used_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (coupon_id, user_id) DO NOTHING`,
		ic.ID, ic.CouponID, ic.UserID, ic.Status, ic.IssuedAt, ic.UsedAt, ic.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert issued coupon: %w", err)
	}
	return nil
}

// UserIDs returns the ids of every user holding a record for the coupon,
// regardless of status. Stock never returns to the pool once issued, so USED
// and EXPIRED records still count against totalQuantity.
func (r *IssuedCouponRepository) UserIDs(ctx context.Context, couponID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM issued_coupons WHERE coupon_id = $1`, couponID)
	if err != nil {
		return nil, fmt.Errorf("list issued users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan issued user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// MarkUsed transitions an issued coupon to USED inside a single transaction.
//
// SELECT ... FOR UPDATE takes a row-level exclusive lock on the issued record,
// so two concurrent redemption attempts are serialised: the first commits the
// ISSUED → USED transition, the second observes USED and gets ErrAlreadyUsed.
//
// An ISSUED record found past its expiry is flipped to EXPIRED in the same
// transaction rather than waiting for the background sweep.
func (r *IssuedCouponRepository) MarkUsed(ctx context.Context, id, userID string, now time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var owner string
	var status model.IssuedStatus
	var expiresAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT user_id, status, expires_at
		 FROM issued_coupons
		 WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&owner, &status, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock issued coupon: %w", err)
	}

	// The (id, user) pair must resolve; a non-owner sees the same answer as a
	// missing record.
	if owner != userID {
		err = ErrNotFound
		return err
	}

	switch status {
	case model.StatusUsed:
		err = ErrAlreadyUsed
		return err
	case model.StatusExpired:
		err = ErrCouponExpired
		return err
	}

	if !now.Before(expiresAt) {
		if _, execErr := tx.Exec(ctx,
			`UPDATE issued_coupons SET status = 'EXPIRED' WHERE id = $1`, id,
		); execErr != nil {
			err = fmt.Errorf("expire issued coupon: %w", execErr)
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit expiry: %w", err)
		}
		return ErrCouponExpired
	}

	if _, err = tx.Exec(ctx,
		`UPDATE issued_coupons SET status = 'USED', used_at = $2 WHERE id = $1`,
		id, now,
	); err != nil {
		return fmt.Errorf("mark used: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListByUser returns one page of a user's issued coupons, newest first, joined
// with the coupon fields clients render. The second return value is the total
// matching record count before paging.
func (r *IssuedCouponRepository) ListByUser(
	ctx context.Context,
	userID string,
	status *model.IssuedStatus,
	page, limit int,
) ([]model.IssuedCouponView, int, error) {
	where := `WHERE ic.user_id = $1`
	args := []any{userID}
	if status != nil {
		where += ` AND ic.status = $2`
		args = append(args, *status)
	}

	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM issued_coupons ic `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count issued coupons: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT ic.id, ic.coupon_id, c.name, c.discount_type, c.discount_value,
		        ic.status, ic.issued_at, ic.used_at, ic.expires_at
		 FROM issued_coupons ic
		 JOIN coupons c ON c.id = ic.coupon_id
		 %s
		 ORDER BY ic.issued_at DESC
		 LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list issued coupons: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var views []model.IssuedCouponView
	for rows.Next() {
		var v model.IssuedCouponView
		if err := rows.Scan(
			&v.ID, &v.CouponID, &v.CouponName, &v.DiscountType, &v.DiscountValue,
			&v.Status, &v.IssuedAt, &v.UsedAt, &v.ExpiresAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan issued coupon: %w", err)
		}
		v.IsExpired = v.Status == model.StatusExpired ||
			(v.Status == model.StatusIssued && !now.Before(v.ExpiresAt))
		views = append(views, v)
	}
	return views, total, rows.Err()
}

// ExpireOverdue flips every ISSUED record past its expiry to EXPIRED and
// returns how many rows changed.
func (r *IssuedCouponRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE issued_coupons SET status = 'EXPIRED'
		 WHERE status = 'ISSUED' AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}
