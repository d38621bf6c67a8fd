// Package repositorytest provides an in-memory store implementing the service
// layer's store interfaces with the same semantics as the pgx repositories,
// including the (coupon, user) unique key and the redemption state machine.
// It backs unit tests that exercise coordinator logic without PostgreSQL.
package repositorytest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/flashcoupon/coupon-engine/internal/model"
	"github.com/flashcoupon/coupon-engine/internal/repository"
)

// ErrTransient simulates a transient database failure.
var ErrTransient = errors.New("transient store failure")

// Store is a thread-safe in-memory coupon and ledger store.
type Store struct {
	mu      sync.Mutex
	coupons map[string]model.Coupon
	issued  map[string]model.IssuedCoupon // by record id
	byPair  map[string]map[string]string  // couponID → userID → record id

	insertFailures int // remaining Insert calls to fail
	insertCalls    int
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		coupons: make(map[string]model.Coupon),
		issued:  make(map[string]model.IssuedCoupon),
		byPair:  make(map[string]map[string]string),
	}
}

// FailInserts makes the next n Insert calls return ErrTransient.
func (s *Store) FailInserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFailures = n
}

// InsertCalls reports how many times Insert was invoked.
func (s *Store) InsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

// ─── CouponStore ──────────────────────────────────────────────────────────────

func (s *Store) Create(_ context.Context, c *model.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Stats = nil
	s.coupons[c.ID] = cp
	return nil
}

func (s *Store) Update(_ context.Context, c *model.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.coupons[c.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *c
	cp.Stats = nil
	s.coupons[c.ID] = cp
	return nil
}

func (s *Store) GetMeta(_ context.Context, id string) (*model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetByID(_ context.Context, id string) (*model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.Stats = s.statsLocked(id, c.TotalQuantity)
	return &c, nil
}

func (s *Store) List(_ context.Context) ([]model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Coupon
	for id, c := range s.coupons {
		c.Stats = s.statsLocked(id, c.TotalQuantity)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) IDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.coupons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Invalidate satisfies the MetaSource interface; the store has no cache.
func (s *Store) Invalidate(string) {}

func (s *Store) statsLocked(couponID string, total int) *model.CouponStats {
	now := time.Now().UTC()
	st := &model.CouponStats{}
	for _, ic := range s.issued {
		if ic.CouponID != couponID {
			continue
		}
		st.IssuedCount++
		switch {
		case ic.Status == model.StatusUsed:
			st.UsedCount++
		case ic.Status == model.StatusExpired,
			ic.Status == model.StatusIssued && !now.Before(ic.ExpiresAt):
			st.ExpiredCount++
		}
	}
	st.RemainingCount = total - st.IssuedCount
	return st
}

// ─── IssuedStore ──────────────────────────────────────────────────────────────

func (s *Store) Insert(_ context.Context, ic *model.IssuedCoupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertFailures > 0 {
		s.insertFailures--
		return ErrTransient
	}
	users, ok := s.byPair[ic.CouponID]
	if !ok {
		users = make(map[string]string)
		s.byPair[ic.CouponID] = users
	}
	// Unique (coupon, user) key: a second insert is a silent no-op, matching
	// ON CONFLICT DO NOTHING.
	if _, dup := users[ic.UserID]; dup {
		return nil
	}
	users[ic.UserID] = ic.ID
	s.issued[ic.ID] = *ic
	return nil
}

func (s *Store) UserIDs(_ context.Context, couponID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for userID := range s.byPair[couponID] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) MarkUsed(_ context.Context, id, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ic, ok := s.issued[id]
	if !ok || ic.UserID != userID {
		return repository.ErrNotFound
	}
	switch ic.Status {
	case model.StatusUsed:
		return repository.ErrAlreadyUsed
	case model.StatusExpired:
		return repository.ErrCouponExpired
	}
	if !now.Before(ic.ExpiresAt) {
		ic.Status = model.StatusExpired
		s.issued[id] = ic
		return repository.ErrCouponExpired
	}
	used := now
	ic.Status = model.StatusUsed
	ic.UsedAt = &used
	s.issued[id] = ic
	return nil
}

func (s *Store) ListByUser(
	_ context.Context,
	userID string,
	status *model.IssuedStatus,
	page, limit int,
) ([]model.IssuedCouponView, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var all []model.IssuedCouponView
	for _, ic := range s.issued {
		if ic.UserID != userID {
			continue
		}
		if status != nil && ic.Status != *status {
			continue
		}
		c := s.coupons[ic.CouponID]
		all = append(all, model.IssuedCouponView{
			ID:            ic.ID,
			CouponID:      ic.CouponID,
			CouponName:    c.Name,
			DiscountType:  c.DiscountType,
			DiscountValue: c.DiscountValue,
			Status:        ic.Status,
			IssuedAt:      ic.IssuedAt,
			UsedAt:        ic.UsedAt,
			ExpiresAt:     ic.ExpiresAt,
			IsExpired: ic.Status == model.StatusExpired ||
				(ic.Status == model.StatusIssued && !now.Before(ic.ExpiresAt)),
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].IssuedAt.After(all[j].IssuedAt) })

	total := len(all)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *Store) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ic := range s.issued {
		if ic.Status == model.StatusIssued && !now.Before(ic.ExpiresAt) {
			ic.Status = model.StatusExpired
			s.issued[id] = ic
			n++
		}
	}
	return n, nil
}

// Record returns a copy of one ledger record for assertions.
func (s *Store) Record(id string) (model.IssuedCoupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ic, ok := s.issued[id]
	return ic, ok
}

// CountIssued returns how many ledger records exist for a coupon.
func (s *Store) CountIssued(couponID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPair[couponID])
}

// Records returns copies of every ledger record for a coupon.
func (s *Store) Records(couponID string) []model.IssuedCoupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.IssuedCoupon
	for _, ic := range s.issued {
		if ic.CouponID == couponID {
			out = append(out, ic)
		}
	}
	return out
}
