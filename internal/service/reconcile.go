package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/flashcoupon/coupon-engine/internal/admission"
	"github.com/flashcoupon/coupon-engine/internal/logger"
)

// ResyncSummary reports one reconciliation run.
type ResyncSummary struct {
	CouponsProcessed   int
	DiscrepanciesFound int
}

// Message renders the summary for the admin sync endpoint.
func (s ResyncSummary) Message() string {
	return fmt.Sprintf("resynced %d coupon(s), %d discrepancy(ies) found",
		s.CouponsProcessed, s.DiscrepanciesFound)
}

// Reconciler rebuilds admission state from the durable ledger and expires
// stale issued-but-unused records. The gate's own atomic guard does not depend
// on it; reconciliation exists to heal cache loss and to surface drift.
type Reconciler struct {
	gate    *admission.Gate
	coupons CouponStore
	issued  IssuedStore
	sf      singleflight.Group
	log     *logger.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(gate *admission.Gate, coupons CouponStore, issued IssuedStore, log *logger.Logger) *Reconciler {
	return &Reconciler{gate: gate, coupons: coupons, issued: issued, log: log}
}

// Resync recomputes admission state for the given coupons, or for every
// coupon when none are named. Safe to run under concurrent issue traffic.
func (r *Reconciler) Resync(ctx context.Context, couponIDs ...string) (ResyncSummary, error) {
	if len(couponIDs) == 0 {
		ids, err := r.coupons.IDs(ctx)
		if err != nil {
			return ResyncSummary{}, fmt.Errorf("resync: %w", err)
		}
		couponIDs = ids
	}

	var summary ResyncSummary
	for _, id := range couponIDs {
		drift, err := r.resyncOne(ctx, id)
		if err != nil {
			return summary, fmt.Errorf("resync coupon %s: %w", id, err)
		}
		summary.CouponsProcessed++
		if drift {
			summary.DiscrepanciesFound++
		}
	}
	r.log.Infow("resync complete",
		"coupons", summary.CouponsProcessed, "discrepancies", summary.DiscrepanciesFound)
	return summary, nil
}

// ResyncOne rebuilds a single coupon's admission state.
func (r *Reconciler) ResyncOne(ctx context.Context, couponID string) error {
	_, err := r.resyncOne(ctx, couponID)
	return err
}

// resyncOne is single-flighted per coupon: concurrent rebuild requests for the
// same coupon share one pass over the ledger instead of racing each other's
// Reset.
func (r *Reconciler) resyncOne(ctx context.Context, couponID string) (bool, error) {
	v, err, _ := r.sf.Do(couponID, func() (any, error) {
		// Deduplicated followers share this one execution; detach it from the
		// first caller's context so their rebuild cannot fail just because
		// that request was cancelled mid-query.
		ctx := context.WithoutCancel(ctx)
		c, err := r.coupons.GetMeta(ctx, couponID)
		if err != nil {
			return false, err
		}
		userIDs, err := r.issued.UserIDs(ctx, couponID)
		if err != nil {
			return false, err
		}
		// The ledger's unique key already forbids duplicates; dedupe keeps the
		// remaining computation honest regardless.
		users := lo.Uniq(userIDs)

		drift := false
		if remaining, issued, ok := r.gate.Snapshot(couponID); ok {
			expected := c.TotalQuantity - len(users)
			if expected < 0 {
				expected = 0
			}
			if remaining != expected || issued != len(users) {
				drift = true
				r.log.Warnw("admission state drift",
					"couponId", couponID,
					"cacheRemaining", remaining, "ledgerRemaining", expected,
					"cacheIssued", issued, "ledgerIssued", len(users))
			}
		}
		r.gate.Reset(c, users)
		return drift, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// SweepExpired flips ISSUED records past their expiry to EXPIRED.
func (r *Reconciler) SweepExpired(ctx context.Context) (int64, error) {
	n, err := r.issued.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Infow("expired stale issued coupons", "count", n)
	}
	return n, nil
}

// Run performs the expiry sweep on a fixed interval until ctx is cancelled.
// Request-path work never waits on the sweep.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SweepExpired(ctx); err != nil {
				r.log.Errorw("expiry sweep failed", "error", err)
			}
		}
	}
}
