package checkout

import (
	"context"
	"log"
	"time"

	"github.com/starlight-cinema/booking-core/internal/model"
)

// SweepOnce cancels orders abandoned mid-checkout: AWAITING_PAYMENT
// orders whose payment session was never reconciled within twice the
// hold TTL, and PENDING orders that sat past the same window.  Each
// order is claimed with a status CAS first, so a reconciliation
// arriving concurrently wins if it gets there before the sweep.
// Released seat counts are returned for logging.
func (o *Orchestrator) SweepOnce(ctx context.Context) (int, error) {
	cutoff := o.now().UTC().Add(-2 * o.holdTTL)
	swept := 0
	for _, status := range []string{model.OrderAwaitingPayment, model.OrderPending} {
		stale, err := o.orders.ListStaleBefore(ctx, status, cutoff)
		if err != nil {
			return swept, err
		}
		for i := range stale {
			ord := &stale[i]
			won, err := o.orders.CASStatus(ctx, ord.ID, status, model.OrderCancelled)
			if err != nil {
				return swept, err
			}
			if !won {
				continue
			}
			seatIDs, err := o.seatIDs(ctx, ord.ID)
			if err != nil {
				return swept, err
			}
			if _, err := o.inventory.Release(ctx, ord.ScreeningID, seatIDs, ord.UserID); err != nil {
				return swept, err
			}
			if err := o.orders.SetOutcome(ctx, ord.ID, model.FailReasonTimeout, false); err != nil {
				return swept, err
			}
			swept++
		}
	}
	return swept, nil
}

// RunSweeper runs SweepOnce on the given interval until the context is
// cancelled.  Intended to be launched as a goroutine from main.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.SweepOnce(ctx)
			if err != nil {
				log.Printf("sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweep: cancelled %d abandoned orders", n)
			}
		}
	}
}
