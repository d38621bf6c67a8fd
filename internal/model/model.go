// Package model defines the core domain types for the coupon issuance engine.
package model

import "time"

// CouponType distinguishes issuance policies. Only FCFS (first-come-first-served)
// is exercised by the engine; LOTTERY and CODE coupons can be defined but not issued.
type CouponType string

const (
	CouponTypeFCFS    CouponType = "FCFS"
	CouponTypeLottery CouponType = "LOTTERY"
	CouponTypeCode    CouponType = "CODE"
)

// DiscountType says whether DiscountValue is a fixed amount or a percentage rate.
type DiscountType string

const (
	DiscountAmount DiscountType = "AMOUNT"
	DiscountRate   DiscountType = "RATE"
)

// IssuedStatus is the state machine of an issued coupon:
// ISSUED → USED (terminal) or ISSUED → EXPIRED (terminal, time-driven).
type IssuedStatus string

const (
	StatusIssued  IssuedStatus = "ISSUED"
	StatusUsed    IssuedStatus = "USED"
	StatusExpired IssuedStatus = "EXPIRED"
)

// IssueStatus is the outcome of a single issuance attempt. These are business
// outcomes returned as data, not errors; clients consume the strings verbatim.
type IssueStatus string

const (
	IssueSuccess    IssueStatus = "SUCCESS"
	IssueDuplicated IssueStatus = "DUPLICATED"
	IssueSoldOut    IssueStatus = "SOLD_OUT"
	IssueExpired    IssueStatus = "EXPIRED"
	IssueNotStarted IssueStatus = "NOT_STARTED"
)

// Coupon is a fixed-quantity, time-boxed coupon definition created by an admin.
// TotalQuantity is fixed at creation and never decreases.
type Coupon struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Type          CouponType   `json:"type"`
	DiscountType  DiscountType `json:"discountType"`
	DiscountValue float64      `json:"discountValue"`
	TotalQuantity int          `json:"totalQuantity"`
	StartAt       time.Time    `json:"startAt"`
	EndAt         time.Time    `json:"endAt"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Stats         *CouponStats `json:"stats,omitempty"`
}

// Active reports whether the coupon is inside its issuance window [StartAt, EndAt).
func (c *Coupon) Active(now time.Time) bool {
	return !now.Before(c.StartAt) && now.Before(c.EndAt)
}

// CouponStats are counters derived from the issued-coupon ledger.
type CouponStats struct {
	IssuedCount    int `json:"issuedCount"`
	UsedCount      int `json:"usedCount"`
	RemainingCount int `json:"remainingCount"`
	ExpiredCount   int `json:"expiredCount"`
}

// IssuedCoupon is the durable record of one unit granted to one user.
// The (CouponID, UserID) pair is unique across all records.
type IssuedCoupon struct {
	ID        string       `json:"id"`
	CouponID  string       `json:"couponId"`
	UserID    string       `json:"userId"`
	Status    IssuedStatus `json:"status"`
	IssuedAt  time.Time    `json:"issuedAt"`
	UsedAt    *time.Time   `json:"usedAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// IssuedCouponView is the read model returned to users: the issued record joined
// with the coupon fields the client renders.
type IssuedCouponView struct {
	ID            string       `json:"id"`
	CouponID      string       `json:"couponId"`
	CouponName    string       `json:"couponName"`
	DiscountType  DiscountType `json:"discountType"`
	DiscountValue float64      `json:"discountValue"`
	Status        IssuedStatus `json:"status"`
	IssuedAt      time.Time    `json:"issuedAt"`
	UsedAt        *time.Time   `json:"usedAt"`
	ExpiresAt     time.Time    `json:"expiresAt"`
	IsExpired     bool         `json:"isExpired"`
}

// IssueResult is the response of an issuance attempt. Remaining is the
// post-decrement stock on SUCCESS and null on every other status.
type IssueResult struct {
	CouponID  string      `json:"couponId"`
	UserID    string      `json:"userId"`
	Status    IssueStatus `json:"status"`
	Remaining *int        `json:"remaining"`
}

// CreateCouponRequest is the payload for defining a new coupon.
type CreateCouponRequest struct {
	Name          string       `json:"name" validate:"required,max=255"`
	Type          CouponType   `json:"type" validate:"required,oneof=FCFS LOTTERY CODE"`
	DiscountType  DiscountType `json:"discountType" validate:"required,oneof=AMOUNT RATE"`
	DiscountValue float64      `json:"discountValue" validate:"required,gt=0"`
	TotalQuantity int          `json:"totalQuantity" validate:"required,gt=0"`
	StartAt       time.Time    `json:"startAt" validate:"required"`
	EndAt         time.Time    `json:"endAt" validate:"required,gtfield=StartAt"`
}

// UpdateCouponRequest is a partial update, only allowed before the coupon activates.
type UpdateCouponRequest struct {
	Name          *string       `json:"name" validate:"omitempty,max=255"`
	Type          *CouponType   `json:"type" validate:"omitempty,oneof=FCFS LOTTERY CODE"`
	DiscountType  *DiscountType `json:"discountType" validate:"omitempty,oneof=AMOUNT RATE"`
	DiscountValue *float64      `json:"discountValue" validate:"omitempty,gt=0"`
	TotalQuantity *int          `json:"totalQuantity" validate:"omitempty,gt=0"`
	StartAt       *time.Time    `json:"startAt"`
	EndAt         *time.Time    `json:"endAt"`
}

// IssueRequest is the payload for an issuance attempt.
type IssueRequest struct {
	UserID string `json:"userId" validate:"required,max=255"`
}

// UseRequest is the payload for redeeming an issued coupon.
type UseRequest struct {
	UserID string `json:"userId" validate:"required,max=255"`
}

// PageMeta describes a paginated result set.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// MyCouponsResponse is the paginated listing of a user's issued coupons.
type MyCouponsResponse struct {
	Data []IssuedCouponView `json:"data"`
	Meta PageMeta           `json:"meta"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
