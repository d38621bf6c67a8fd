// Package service implements business logic and orchestration between HTTP
// handlers, the admission gate, and the repository layer.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/flashcoupon/coupon-engine/internal/model"
)

// ErrInvalidInput wraps request validation failures.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotEditable is returned when editing a coupon whose window has opened.
var ErrNotEditable = errors.New("coupon can no longer be edited")

// ErrUnsupportedType is returned when issuing a non-FCFS coupon.
var ErrUnsupportedType = errors.New("only FCFS coupons can be issued")

// CouponStore is the durable store of coupon definitions.
// *repository.CouponRepository satisfies it.
type CouponStore interface {
	Create(ctx context.Context, c *model.Coupon) error
	Update(ctx context.Context, c *model.Coupon) error
	List(ctx context.Context) ([]model.Coupon, error)
	GetByID(ctx context.Context, id string) (*model.Coupon, error)
	GetMeta(ctx context.Context, id string) (*model.Coupon, error)
	IDs(ctx context.Context) ([]string, error)
}

// MetaSource is the read path for coupon definitions on the issue path.
// *repository.CachedCoupons satisfies it.
type MetaSource interface {
	GetMeta(ctx context.Context, id string) (*model.Coupon, error)
	Invalidate(id string)
}

// IssuedStore is the durable ledger of issued coupons.
// *repository.IssuedCouponRepository satisfies it.
type IssuedStore interface {
	Insert(ctx context.Context, ic *model.IssuedCoupon) error
	UserIDs(ctx context.Context, couponID string) ([]string, error)
	MarkUsed(ctx context.Context, id, userID string, now time.Time) error
	ListByUser(ctx context.Context, userID string, status *model.IssuedStatus, page, limit int) ([]model.IssuedCouponView, int, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}
