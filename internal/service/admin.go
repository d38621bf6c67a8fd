package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flashcoupon/coupon-engine/internal/admission"
	"github.com/flashcoupon/coupon-engine/internal/logger"
	"github.com/flashcoupon/coupon-engine/internal/model"
)

// AdminService handles coupon definition management.
type AdminService struct {
	coupons  CouponStore
	meta     MetaSource
	gate     *admission.Gate
	validate *validator.Validate
	log      *logger.Logger
}

// NewAdminService constructs an AdminService.
func NewAdminService(coupons CouponStore, meta MetaSource, gate *admission.Gate, log *logger.Logger) *AdminService {
	return &AdminService{
		coupons:  coupons,
		meta:     meta,
		gate:     gate,
		validate: validator.New(),
		log:      log,
	}
}

// CreateCoupon validates the request and persists a new coupon definition.
func (s *AdminService) CreateCoupon(ctx context.Context, req model.CreateCouponRequest) (*model.Coupon, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	c := &model.Coupon{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Type:          req.Type,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		TotalQuantity: req.TotalQuantity,
		StartAt:       req.StartAt.UTC(),
		EndAt:         req.EndAt.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.coupons.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	s.log.Infow("coupon created",
		"couponId", c.ID, "name", c.Name, "totalQuantity", c.TotalQuantity)

	c.Stats = &model.CouponStats{RemainingCount: c.TotalQuantity}
	return c, nil
}

// UpdateCoupon applies a partial administrative edit. Edits are only allowed
// before the issuance window opens; once a coupon is live its definition is
// immutable.
func (s *AdminService) UpdateCoupon(ctx context.Context, id string, req model.UpdateCouponRequest) (*model.Coupon, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	c, err := s.coupons.GetMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if !time.Now().UTC().Before(c.StartAt) {
		return nil, ErrNotEditable
	}

	if req.Name != nil {
		c.Name = strings.TrimSpace(*req.Name)
	}
	if req.Type != nil {
		c.Type = *req.Type
	}
	if req.DiscountType != nil {
		c.DiscountType = *req.DiscountType
	}
	if req.DiscountValue != nil {
		c.DiscountValue = *req.DiscountValue
	}
	if req.TotalQuantity != nil {
		c.TotalQuantity = *req.TotalQuantity
	}
	if req.StartAt != nil {
		c.StartAt = req.StartAt.UTC()
	}
	if req.EndAt != nil {
		c.EndAt = req.EndAt.UTC()
	}
	if c.Name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if !c.StartAt.Before(c.EndAt) {
		return nil, fmt.Errorf("%w: startAt must be before endAt", ErrInvalidInput)
	}

	c.UpdatedAt = time.Now().UTC()
	if err := s.coupons.Update(ctx, c); err != nil {
		return nil, err
	}
	s.meta.Invalidate(id)
	// An issue attempt before startAt may already have materialised a gate
	// entry carrying the old window and quantity. Drop it; nothing is lost
	// pre-activation (no admission can have succeeded yet) and the next
	// attempt rebuilds from the edited definition.
	s.gate.Forget(id)

	return s.coupons.GetByID(ctx, id)
}

// ListCoupons returns all coupon definitions with derived stats.
func (s *AdminService) ListCoupons(ctx context.Context) ([]model.Coupon, error) {
	return s.coupons.List(ctx)
}

// GetCoupon returns one coupon definition with derived stats.
func (s *AdminService) GetCoupon(ctx context.Context, id string) (*model.Coupon, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: coupon id is required", ErrInvalidInput)
	}
	return s.coupons.GetByID(ctx, id)
}
