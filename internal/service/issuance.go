package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flashcoupon/coupon-engine/internal/admission"
	"github.com/flashcoupon/coupon-engine/internal/logger"
	"github.com/flashcoupon/coupon-engine/internal/model"
)

// IssuanceOptions tune the async persistence path and the expiry policy.
type IssuanceOptions struct {
	WriterWorkers     int
	WriterBuffer      int
	PersistMaxElapsed time.Duration

	// ValidityGrace derives each issued coupon's expiresAt as the coupon's
	// endAt plus this offset. The default of zero means an issued coupon
	// expires when its coupon's issuance window closes.
	ValidityGrace time.Duration
}

// IssuanceService executes the admission protocol: an atomic in-memory
// decision followed by an asynchronous durable write.
type IssuanceService struct {
	gate       *admission.Gate
	meta       MetaSource
	reconciler *Reconciler
	writer     *issuedWriter
	grace      time.Duration
	log        *logger.Logger
}

// NewIssuanceService constructs an IssuanceService and starts its writer pool.
// Call Close to drain the pool on shutdown.
func NewIssuanceService(
	gate *admission.Gate,
	meta MetaSource,
	issued IssuedStore,
	reconciler *Reconciler,
	opts IssuanceOptions,
	log *logger.Logger,
) *IssuanceService {
	return &IssuanceService{
		gate:       gate,
		meta:       meta,
		reconciler: reconciler,
		writer:     newIssuedWriter(issued, opts.WriterWorkers, opts.WriterBuffer, opts.PersistMaxElapsed, log),
		grace:      opts.ValidityGrace,
		log:        log,
	}
}

// Issue attempts to grant one unit of the coupon to the user.
//
// Business outcomes (DUPLICATED, SOLD_OUT, EXPIRED, NOT_STARTED) are returned
// as data with a nil error. An error means the attempt itself could not be
// decided: unknown coupon, unsupported type, or admission state that could not
// be loaded.
//
// On SUCCESS the unit is already reserved in the gate when this returns; the
// durable record lands asynchronously and the reservation is never rolled
// back, even if the caller disconnects or the write needs retries.
func (s *IssuanceService) Issue(ctx context.Context, couponID, userID string) (model.IssueResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.IssueResult{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	c, err := s.meta.GetMeta(ctx, couponID)
	if err != nil {
		return model.IssueResult{}, err
	}
	if c.Type != model.CouponTypeFCFS {
		return model.IssueResult{}, ErrUnsupportedType
	}

	now := time.Now().UTC()
	res, err := s.gate.TryAdmit(couponID, userID, now)
	if errors.Is(err, admission.ErrNoEntry) {
		// First attempt since startup (or the entry was dropped): rebuild the
		// admission state from the ledger, then decide.
		if err := s.reconciler.ResyncOne(ctx, couponID); err != nil {
			return model.IssueResult{}, fmt.Errorf("load admission state: %w", err)
		}
		res, err = s.gate.TryAdmit(couponID, userID, now)
	}
	if err != nil {
		return model.IssueResult{}, err
	}

	out := model.IssueResult{CouponID: couponID, UserID: userID, Status: res.Status}
	if res.Status == model.IssueSuccess {
		remaining := res.Remaining
		out.Remaining = &remaining

		s.writer.enqueue(model.IssuedCoupon{
			ID:        uuid.New().String(),
			CouponID:  couponID,
			UserID:    userID,
			Status:    model.StatusIssued,
			IssuedAt:  now,
			ExpiresAt: c.EndAt.Add(s.grace),
		})
		s.log.Infow("coupon issued",
			"couponId", couponID, "userId", userID, "remaining", remaining)
	}
	return out, nil
}

// Close drains the async writer. Pending durable writes complete before it
// returns.
func (s *IssuanceService) Close() {
	s.writer.close()
}
