package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashcoupon/coupon-engine/internal/admission"
	"github.com/flashcoupon/coupon-engine/internal/logger"
	"github.com/flashcoupon/coupon-engine/internal/model"
	"github.com/flashcoupon/coupon-engine/internal/repository"
	"github.com/flashcoupon/coupon-engine/internal/repository/repositorytest"
)

type issuanceFixture struct {
	store      *repositorytest.Store
	gate       *admission.Gate
	reconciler *Reconciler
	svc        *IssuanceService
}

func newIssuanceFixture(t *testing.T) *issuanceFixture {
	t.Helper()
	store := repositorytest.New()
	gate := admission.New()
	log := logger.Nop()
	reconciler := NewReconciler(gate, store, store, log)
	svc := NewIssuanceService(gate, store, store, reconciler, IssuanceOptions{
		WriterWorkers:     2,
		WriterBuffer:      256,
		PersistMaxElapsed: 5 * time.Second,
	}, log)
	return &issuanceFixture{store: store, gate: gate, reconciler: reconciler, svc: svc}
}

func (f *issuanceFixture) seedCoupon(t *testing.T, quantity int, startAt, endAt time.Time) *model.Coupon {
	t.Helper()
	now := time.Now().UTC()
	c := &model.Coupon{
		ID:            uuid.New().String(),
		Name:          "flash sale",
		Type:          model.CouponTypeFCFS,
		DiscountType:  model.DiscountAmount,
		DiscountValue: 1000,
		TotalQuantity: quantity,
		StartAt:       startAt,
		EndAt:         endAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.Create(context.Background(), c))
	return c
}

func (f *issuanceFixture) seedActiveCoupon(t *testing.T, quantity int) *model.Coupon {
	now := time.Now().UTC()
	return f.seedCoupon(t, quantity, now.Add(-time.Hour), now.Add(time.Hour))
}

func TestIssueSuccessPersistsLedgerRecord(t *testing.T) {
	f := newIssuanceFixture(t)
	c := f.seedActiveCoupon(t, 3)

	res, err := f.svc.Issue(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.IssueSuccess, res.Status)
	require.NotNil(t, res.Remaining)
	assert.Equal(t, 2, *res.Remaining)

	f.svc.Close() // drain the async writer

	recs := f.store.Records(c.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, "user-1", recs[0].UserID)
	assert.Equal(t, model.StatusIssued, recs[0].Status)
	assert.Nil(t, recs[0].UsedAt)
	// Default expiry policy: expiresAt equals the coupon's endAt.
	assert.True(t, recs[0].ExpiresAt.Equal(c.EndAt))
}

func TestIssueDuplicateReturnsNoSecondRecord(t *testing.T) {
	f := newIssuanceFixture(t)
	c := f.seedActiveCoupon(t, 3)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, c.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, model.IssueSuccess, first.Status)

	second, err := f.svc.Issue(ctx, c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.IssueDuplicated, second.Status)
	assert.Nil(t, second.Remaining)

	f.svc.Close()
	assert.Equal(t, 1, f.store.CountIssued(c.ID))
}

func TestIssueSoldOut(t *testing.T) {
	f := newIssuanceFixture(t)
	c := f.seedActiveCoupon(t, 1)
	ctx := context.Background()

	res, err := f.svc.Issue(ctx, c.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, model.IssueSuccess, res.Status)

	res, err = f.svc.Issue(ctx, c.ID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, model.IssueSoldOut, res.Status)
	assert.Nil(t, res.Remaining)
	f.svc.Close()
}

func TestIssueOutsideWindow(t *testing.T) {
	f := newIssuanceFixture(t)
	now := time.Now().UTC()
	future := f.seedCoupon(t, 5, now.Add(time.Hour), now.Add(2*time.Hour))
	past := f.seedCoupon(t, 5, now.Add(-2*time.Hour), now.Add(-time.Hour))
	ctx := context.Background()

	res, err := f.svc.Issue(ctx, future.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.IssueNotStarted, res.Status)

	res, err = f.svc.Issue(ctx, past.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.IssueExpired, res.Status)

	f.svc.Close()
	assert.Equal(t, 0, f.store.CountIssued(future.ID))
	assert.Equal(t, 0, f.store.CountIssued(past.ID))
}

func TestIssueUnknownCoupon(t *testing.T) {
	f := newIssuanceFixture(t)
	defer f.svc.Close()

	_, err := f.svc.Issue(context.Background(), uuid.New().String(), "user-1")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIssueNonFCFSCoupon(t *testing.T) {
	f := newIssuanceFixture(t)
	defer f.svc.Close()
	c := f.seedActiveCoupon(t, 5)
	c.Type = model.CouponTypeLottery
	require.NoError(t, f.store.Update(context.Background(), c))

	_, err := f.svc.Issue(context.Background(), c.ID, "user-1")
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestIssueEmptyUserID(t *testing.T) {
	f := newIssuanceFixture(t)
	defer f.svc.Close()
	c := f.seedActiveCoupon(t, 5)

	_, err := f.svc.Issue(context.Background(), c.ID, "   ")
	require.ErrorIs(t, err, ErrInvalidInput)
}

// TestIssuePersistRetriesTransientFailure: the durable write fails twice, then
// lands. The caller saw SUCCESS throughout; the ledger ends up consistent.
func TestIssuePersistRetriesTransientFailure(t *testing.T) {
	f := newIssuanceFixture(t)
	c := f.seedActiveCoupon(t, 1)

	f.store.FailInserts(2)
	res, err := f.svc.Issue(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, model.IssueSuccess, res.Status)

	f.svc.Close()

	assert.Equal(t, 1, f.store.CountIssued(c.ID))
	assert.GreaterOrEqual(t, f.store.InsertCalls(), 3)
}

// TestIssueRebuildsGateFromLedger: the gate starts cold (fresh process) while
// the ledger already holds records. The first attempt must rebuild, not grant
// from pristine stock.
func TestIssueRebuildsGateFromLedger(t *testing.T) {
	f := newIssuanceFixture(t)
	c := f.seedActiveCoupon(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Insert(ctx, &model.IssuedCoupon{
			ID:        uuid.New().String(),
			CouponID:  c.ID,
			UserID:    fmt.Sprintf("early-%d", i),
			Status:    model.StatusIssued,
			IssuedAt:  time.Now().UTC(),
			ExpiresAt: c.EndAt,
		}))
	}
	require.False(t, f.gate.Loaded(c.ID))

	res, err := f.svc.Issue(ctx, c.ID, "early-1")
	require.NoError(t, err)
	assert.Equal(t, model.IssueDuplicated, res.Status)

	res, err = f.svc.Issue(ctx, c.ID, "latecomer")
	require.NoError(t, err)
	assert.Equal(t, model.IssueSoldOut, res.Status)
	f.svc.Close()
}

// TestIssueSeesPreActivationEdit: an issue attempt before startAt materialises
// a gate entry; a legal pre-activation edit must invalidate it, so later
// attempts are decided against the edited window and quantity.
func TestIssueSeesPreActivationEdit(t *testing.T) {
	f := newIssuanceFixture(t)
	now := time.Now().UTC()
	c := f.seedCoupon(t, 2, now.Add(time.Hour), now.Add(2*time.Hour))
	admin := NewAdminService(f.store, f.store, f.gate, logger.Nop())
	ctx := context.Background()

	res, err := f.svc.Issue(ctx, c.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, model.IssueNotStarted, res.Status)
	require.True(t, f.gate.Loaded(c.ID))

	// Move the window so the coupon is live now, and raise the quantity.
	startAt := now.Add(-time.Minute)
	quantity := 5
	_, err = admin.UpdateCoupon(ctx, c.ID, model.UpdateCouponRequest{
		StartAt:       &startAt,
		TotalQuantity: &quantity,
	})
	require.NoError(t, err)

	res, err = f.svc.Issue(ctx, c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.IssueSuccess, res.Status)
	require.NotNil(t, res.Remaining)
	assert.Equal(t, 4, *res.Remaining)
	f.svc.Close()
}

// TestResyncDuringLaggingWriteKeepsStockClosed: a resync that runs while the
// durable write is still retrying must not re-open the granted unit.
func TestResyncDuringLaggingWriteKeepsStockClosed(t *testing.T) {
	f := newIssuanceFixture(t)
	c := f.seedActiveCoupon(t, 1)
	ctx := context.Background()

	f.store.FailInserts(2)
	res, err := f.svc.Issue(ctx, c.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, model.IssueSuccess, res.Status)

	// Operator-triggered resync while the ledger is still empty.
	_, err = f.reconciler.Resync(ctx, c.ID)
	require.NoError(t, err)

	res, err = f.svc.Issue(ctx, c.ID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, model.IssueSoldOut, res.Status)

	res, err = f.svc.Issue(ctx, c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.IssueDuplicated, res.Status)

	f.svc.Close()
	assert.Equal(t, 1, f.store.CountIssued(c.ID))
}

// TestScenarioFourUsersThreeUnits: totalQuantity=3, users A-D race. Exactly
// three win, one is SOLD_OUT, and a repeat call from a winner is DUPLICATED.
func TestScenarioFourUsersThreeUnits(t *testing.T) {
	f := newIssuanceFixture(t)
	c := f.seedActiveCoupon(t, 3)
	ctx := context.Background()

	users := []string{"A", "B", "C", "D"}
	results := make(map[string]model.IssueStatus, len(users))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			res, err := f.svc.Issue(ctx, c.ID, u)
			assert.NoError(t, err)
			mu.Lock()
			results[u] = res.Status
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	success, soldOut := 0, 0
	var winner string
	for u, st := range results {
		switch st {
		case model.IssueSuccess:
			success++
			winner = u
		case model.IssueSoldOut:
			soldOut++
		default:
			t.Fatalf("unexpected status %s for user %s", st, u)
		}
	}
	assert.Equal(t, 3, success)
	assert.Equal(t, 1, soldOut)

	res, err := f.svc.Issue(ctx, c.ID, winner)
	require.NoError(t, err)
	assert.Equal(t, model.IssueDuplicated, res.Status)

	f.svc.Close()
	assert.Equal(t, 3, f.store.CountIssued(c.ID))
}

// TestConcurrentIssueExhaustion drives the full coordinator path with more
// users than stock and checks the settled ledger matches the decisions.
func TestConcurrentIssueExhaustion(t *testing.T) {
	const quantity = 20
	const callers = 100

	f := newIssuanceFixture(t)
	c := f.seedActiveCoupon(t, quantity)
	ctx := context.Background()

	statuses := make([]model.IssueStatus, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Issue(ctx, c.ID, fmt.Sprintf("user-%d", i))
			assert.NoError(t, err)
			statuses[i] = res.Status
		}(i)
	}
	wg.Wait()
	f.svc.Close()

	success := 0
	for _, st := range statuses {
		if st == model.IssueSuccess {
			success++
		}
	}
	assert.Equal(t, quantity, success)
	assert.Equal(t, quantity, f.store.CountIssued(c.ID))
}
