package repository

import "errors"

// ErrNotFound is returned when a requested resource does not exist, including
// redemption attempts where the (issued coupon, user) pair does not resolve.
var ErrNotFound = errors.New("not found")

// ErrAlreadyUsed is returned when redeeming a coupon that is already USED.
var ErrAlreadyUsed = errors.New("coupon already used")

// ErrCouponExpired is returned when redeeming a coupon past its expiry.
var ErrCouponExpired = errors.New("coupon expired")
