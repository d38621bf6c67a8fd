// Package admission implements the in-memory admission gate: the per-coupon
// structure that decides, atomically, whether a user may receive one unit of a
// fixed-quantity coupon. The gate is a disposable projection of the durable
// ledger; it can be dropped and rebuilt at any time via Reset.
package admission

import (
	"errors"
	"sync"
	"time"

	"github.com/flashcoupon/coupon-engine/internal/model"
)

// ErrNoEntry is returned when the gate has no state for a coupon. The caller
// is expected to rebuild the entry from the durable store and retry; the gate
// never guesses defaults for a coupon it cannot validate.
var ErrNoEntry = errors.New("no admission entry for coupon")

// Result is the outcome of one admission attempt. Remaining is the
// post-decrement stock and is only meaningful when Status is SUCCESS.
type Result struct {
	Status    model.IssueStatus
	Remaining int
}

// entry holds the admission state for a single coupon. All checks and the
// decrement are performed under the entry's own mutex, so contention on one
// coupon never serialises admissions for another.
type entry struct {
	mu        sync.Mutex
	startAt   time.Time
	endAt     time.Time
	remaining int
	issued    map[string]struct{}
}

// Gate holds one entry per coupon. The outer RWMutex only guards the map
// itself; it is never held across an admission decision.
type Gate struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs an empty Gate.
func New() *Gate {
	return &Gate{entries: make(map[string]*entry)}
}

func (g *Gate) lookup(couponID string) (*entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[couponID]
	return e, ok
}

// Loaded reports whether the gate holds state for the coupon.
func (g *Gate) Loaded(couponID string) bool {
	_, ok := g.lookup(couponID)
	return ok
}

// TryAdmit answers "may this user receive this coupon now?".
//
// The window checks are read-only. The duplicate check, stock check and
// decrement are fused into one critical section: splitting them would let two
// callers both observe the last unit and both admit. Under the entry mutex,
// concurrent callers for the same coupon are serialised, so no two admissions
// ever see the same pre-decrement remaining.
//
// A SUCCESS is irrevocable: the gate never rolls back an admission, even if
// the durable write behind it later fails. Reconciliation heals such drift.
func (g *Gate) TryAdmit(couponID, userID string, now time.Time) (Result, error) {
	e, ok := g.lookup(couponID)
	if !ok {
		return Result{}, ErrNoEntry
	}

	if now.Before(e.startAt) {
		return Result{Status: model.IssueNotStarted}, nil
	}
	if !now.Before(e.endAt) {
		return Result{Status: model.IssueExpired}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.issued[userID]; dup {
		return Result{Status: model.IssueDuplicated}, nil
	}
	if e.remaining == 0 {
		return Result{Status: model.IssueSoldOut}, nil
	}

	e.remaining--
	e.issued[userID] = struct{}{}
	return Result{Status: model.IssueSuccess, Remaining: e.remaining}, nil
}

// Reset rebuilds the admission state for a coupon from the durable ledger.
//
// The ledger can lag behind the gate: an admission is granted before its
// record lands, and the async write may still be retrying. The rebuilt user
// set is therefore the UNION of the ledger's users and the live entry's
// issued set, never the ledger alone — otherwise a resync during a lagging
// write would restore stock that is already granted and let a second user
// claim the same unit. Remaining is clamped at zero so an over-issued ledger
// (more records than quantity, e.g. after a manual fixup) can never drive
// the counter negative.
func (g *Gate) Reset(c *model.Coupon, issuedUsers []string) {
	users := make(map[string]struct{}, len(issuedUsers))
	for _, u := range issuedUsers {
		users[u] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.entries[c.ID]; ok {
		old.mu.Lock()
		for u := range old.issued {
			users[u] = struct{}{}
		}
		old.mu.Unlock()
	}

	e := &entry{
		startAt:   c.StartAt,
		endAt:     c.EndAt,
		remaining: c.TotalQuantity - len(users),
		issued:    users,
	}
	if e.remaining < 0 {
		e.remaining = 0
	}
	g.entries[c.ID] = e
}

// Forget drops the entry for a coupon. The next issuance attempt will force a
// rebuild from the durable store.
func (g *Gate) Forget(couponID string) {
	g.mu.Lock()
	delete(g.entries, couponID)
	g.mu.Unlock()
}

// Snapshot returns the current remaining count and issued-user count for a
// coupon. Used by reconciliation to report drift before overwriting.
func (g *Gate) Snapshot(couponID string) (remaining, issued int, ok bool) {
	e, found := g.lookup(couponID)
	if !found {
		return 0, 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining, len(e.issued), true
}
