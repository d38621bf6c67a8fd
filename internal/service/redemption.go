package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flashcoupon/coupon-engine/internal/logger"
	"github.com/flashcoupon/coupon-engine/internal/model"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// RedemptionService handles user-side operations on issued coupons:
// redeeming one, and listing a user's own coupons.
type RedemptionService struct {
	issued IssuedStore
	log    *logger.Logger
}

// NewRedemptionService constructs a RedemptionService.
func NewRedemptionService(issued IssuedStore, log *logger.Logger) *RedemptionService {
	return &RedemptionService{issued: issued, log: log}
}

// Use redeems an issued coupon for its owner. The ISSUED → USED transition is
// executed under a row lock in the store, so concurrent attempts on the same
// record cannot both succeed; the loser surfaces a conflict error.
func (s *RedemptionService) Use(ctx context.Context, issuedCouponID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if issuedCouponID == "" {
		return fmt.Errorf("%w: issued coupon id is required", ErrInvalidInput)
	}

	if err := s.issued.MarkUsed(ctx, issuedCouponID, userID, time.Now().UTC()); err != nil {
		return err
	}
	s.log.Infow("coupon used", "issuedCouponId", issuedCouponID, "userId", userID)
	return nil
}

// MyCoupons returns one page of the user's issued coupons, optionally
// filtered by status.
func (s *RedemptionService) MyCoupons(
	ctx context.Context,
	userID string,
	status *model.IssuedStatus,
	page, limit int,
) (model.MyCouponsResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.MyCouponsResponse{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	views, total, err := s.issued.ListByUser(ctx, userID, status, page, limit)
	if err != nil {
		return model.MyCouponsResponse{}, err
	}
	if views == nil {
		views = []model.IssuedCouponView{}
	}

	totalPages := (total + limit - 1) / limit
	return model.MyCouponsResponse{
		Data: views,
		Meta: model.PageMeta{Page: page, Limit: limit, Total: total, TotalPages: totalPages},
	}, nil
}
