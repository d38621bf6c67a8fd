package service

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flashcoupon/coupon-engine/internal/logger"
	"github.com/flashcoupon/coupon-engine/internal/model"
)

// issuedWriter persists admission results asynchronously. The admission
// decision is final the moment the gate accepts it, so the caller's response
// never waits on the database; the writer retries transient failures with
// exponential backoff and, if the retry window is exhausted, logs the loss for
// reconciliation to heal. It never contradicts a SUCCESS already returned.
type issuedWriter struct {
	ch         chan model.IssuedCoupon
	wg         sync.WaitGroup
	closeOnce  sync.Once
	store      IssuedStore
	maxElapsed time.Duration
	log        *logger.Logger
}

func newIssuedWriter(store IssuedStore, workers, buffer int, maxElapsed time.Duration, log *logger.Logger) *issuedWriter {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	w := &issuedWriter{
		ch:         make(chan model.IssuedCoupon, buffer),
		store:      store,
		maxElapsed: maxElapsed,
		log:        log,
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

func (w *issuedWriter) run() {
	defer w.wg.Done()
	for rec := range w.ch {
		w.persist(rec)
	}
}

func (w *issuedWriter) persist(rec model.IssuedCoupon) {
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.store.Insert(ctx, &rec)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = w.maxElapsed
	if err := backoff.Retry(op, bo); err != nil {
		// The user already holds a SUCCESS; the record will be restored on the
		// next resync of this coupon from whatever the ledger does hold.
		w.log.Errorw("issued coupon write lost after retries",
			"couponId", rec.CouponID, "userId", rec.UserID, "error", err)
	}
}

// enqueue hands a record to the writer pool. Blocks only when the buffer is
// full, which applies backpressure without ever revoking the admission.
func (w *issuedWriter) enqueue(rec model.IssuedCoupon) {
	w.ch <- rec
}

// close stops intake and waits for every queued record to be persisted.
// Safe to call more than once.
func (w *issuedWriter) close() {
	w.closeOnce.Do(func() {
		close(w.ch)
	})
	w.wg.Wait()
}
