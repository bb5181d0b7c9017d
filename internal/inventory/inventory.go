// Package inventory owns the per-screening seat availability state
// machine.  All mutation of seat slots goes through the operations
// here; callers never read-then-write slot rows themselves.  Holds are
// time-bounded and expire lazily: an expired hold counts as FREE for
// every availability check and is flipped back the next time the row
// is touched inside a transaction.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starlight-cinema/booking-core/internal/model"
)

// ErrSeatUnavailable is returned when any seat in a hold request is
// already held or sold.  No seat in the batch is held on failure.
var ErrSeatUnavailable = errors.New("seat unavailable")

// ErrHoldExpiredOrMissing is returned by Confirm when a seat is not
// held by the caller or the hold has lapsed.
var ErrHoldExpiredOrMissing = errors.New("hold expired or missing")

// UnavailableSeatsError carries the seat IDs that blocked a hold
// request.  It matches ErrSeatUnavailable under errors.Is.
type UnavailableSeatsError struct {
	SeatIDs []uint64
}

func (e *UnavailableSeatsError) Error() string {
	return fmt.Sprintf("%d seats unavailable", len(e.SeatIDs))
}

func (e *UnavailableSeatsError) Is(target error) bool { return target == ErrSeatUnavailable }

// Store abstracts seat slot persistence.  WithinTx runs fn inside a
// transaction; the Tx row reads must lock the returned rows until the
// transaction ends (SELECT ... FOR UPDATE in the SQL implementation)
// so that concurrent hold attempts on overlapping seat sets serialize.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of row operations available inside a store
// transaction.  Mark* calls update every matching slot of the
// screening and bump its version.
type Tx interface {
	// SlotsForUpdate returns the slots for the given seat IDs, locked.
	// Unknown seat IDs are simply absent from the result.
	SlotsForUpdate(ctx context.Context, screeningID uint64, seatIDs []uint64) ([]model.SeatSlot, error)
	// AllSlotsForUpdate returns every slot of the screening, locked.
	AllSlotsForUpdate(ctx context.Context, screeningID uint64) ([]model.SeatSlot, error)
	// MarkHeld transitions slots to HELD with the given owner and expiry.
	MarkHeld(ctx context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64, expiresAt time.Time) error
	// MarkFree transitions slots to FREE and clears owner and expiry.
	MarkFree(ctx context.Context, screeningID uint64, seatIDs []uint64) error
	// MarkSold transitions slots to SOLD, keeping the owner for audit.
	MarkSold(ctx context.Context, screeningID uint64, seatIDs []uint64) error
}

// Inventory exposes the hold/release/confirm/snapshot operations over a
// Store.  The now function is swappable for tests.
type Inventory struct {
	store Store
	now   func() time.Time
}

// New returns an Inventory bound to the given store.
func New(store Store) *Inventory {
	if store == nil {
		panic("nil store passed to inventory.New")
	}
	return &Inventory{store: store, now: time.Now}
}

// Hold atomically transitions every requested seat from FREE (or
// lapsed HELD) to HELD with the given owner and an expiry of now+ttl.
// The whole batch succeeds or none of it does: if any seat is held by
// anyone, sold, or unknown, the call fails with ErrSeatUnavailable and
// no state changes.  The held slots are returned with price details so
// callers can build order lines without a second read.
func (inv *Inventory) Hold(ctx context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64, ttl time.Duration) ([]model.SeatSlot, error) {
	if len(seatIDs) == 0 {
		return nil, errors.New("no seats requested")
	}
	now := inv.now().UTC()
	expiresAt := now.Add(ttl)
	var held []model.SeatSlot
	err := inv.store.WithinTx(ctx, func(tx Tx) error {
		slots, err := tx.SlotsForUpdate(ctx, screeningID, seatIDs)
		if err != nil {
			return err
		}
		bySeat := make(map[uint64]*model.SeatSlot, len(slots))
		for i := range slots {
			bySeat[slots[i].SeatID] = &slots[i]
		}
		var unavailable []uint64
		for _, sid := range seatIDs {
			slot, ok := bySeat[sid]
			if !ok {
				unavailable = append(unavailable, sid)
				continue
			}
			switch {
			case slot.Status == model.SeatFree:
			case slot.HoldLapsed(now):
				// lapsed hold; re-grabbing it is allowed
			default:
				unavailable = append(unavailable, sid)
			}
		}
		if len(unavailable) > 0 {
			return &UnavailableSeatsError{SeatIDs: unavailable}
		}
		if err := tx.MarkHeld(ctx, screeningID, seatIDs, ownerID, expiresAt); err != nil {
			return err
		}
		held = make([]model.SeatSlot, 0, len(seatIDs))
		for _, sid := range seatIDs {
			slot := *bySeat[sid]
			slot.Status = model.SeatHeld
			owner := ownerID
			exp := expiresAt
			slot.HoldOwnerID = &owner
			slot.HoldExpiresAt = &exp
			held = append(held, slot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

// Release transitions seats held by ownerID back to FREE.  Seats that
// are already FREE, sold, or held by someone else are skipped silently;
// the call is idempotent and reports how many seats it released.
// Lapsed holds owned by the caller are released as well.
func (inv *Inventory) Release(ctx context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64) (int, error) {
	if len(seatIDs) == 0 {
		return 0, nil
	}
	released := 0
	err := inv.store.WithinTx(ctx, func(tx Tx) error {
		slots, err := tx.SlotsForUpdate(ctx, screeningID, seatIDs)
		if err != nil {
			return err
		}
		var toFree []uint64
		for i := range slots {
			s := &slots[i]
			if s.Status == model.SeatHeld && s.HoldOwnerID != nil && *s.HoldOwnerID == ownerID {
				toFree = append(toFree, s.SeatID)
			}
		}
		if len(toFree) == 0 {
			return nil
		}
		if err := tx.MarkFree(ctx, screeningID, toFree); err != nil {
			return err
		}
		released = len(toFree)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// Confirm transitions seats from HELD to SOLD.  Every requested seat
// must currently be held by ownerID with an unexpired hold, otherwise
// the call fails with ErrHoldExpiredOrMissing and nothing changes.
// This is the only path to SOLD.  Seats already SOLD to ownerID count
// as confirmed, so a retried confirmation is a no-op rather than an
// error; payment reconciliation relies on this to replay its final
// steps safely.
func (inv *Inventory) Confirm(ctx context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64) error {
	if len(seatIDs) == 0 {
		return errors.New("no seats requested")
	}
	now := inv.now().UTC()
	return inv.store.WithinTx(ctx, func(tx Tx) error {
		slots, err := tx.SlotsForUpdate(ctx, screeningID, seatIDs)
		if err != nil {
			return err
		}
		bySeat := make(map[uint64]*model.SeatSlot, len(slots))
		for i := range slots {
			bySeat[slots[i].SeatID] = &slots[i]
		}
		var toSell []uint64
		for _, sid := range seatIDs {
			slot, ok := bySeat[sid]
			if !ok {
				return ErrHoldExpiredOrMissing
			}
			if slot.SoldTo(ownerID) {
				continue
			}
			if !slot.HeldBy(ownerID, now) {
				return ErrHoldExpiredOrMissing
			}
			toSell = append(toSell, sid)
		}
		if len(toSell) == 0 {
			return nil
		}
		return tx.MarkSold(ctx, screeningID, toSell)
	})
}

// Snapshot returns the current status of every slot of the screening.
// Lapsed holds are expired as part of the read: the rows are flipped
// back to FREE and reported as FREE, so the returned view is exactly
// what a subsequent hold attempt would see.
func (inv *Inventory) Snapshot(ctx context.Context, screeningID uint64) ([]model.SeatSlot, error) {
	now := inv.now().UTC()
	var out []model.SeatSlot
	err := inv.store.WithinTx(ctx, func(tx Tx) error {
		slots, err := tx.AllSlotsForUpdate(ctx, screeningID)
		if err != nil {
			return err
		}
		var lapsed []uint64
		for i := range slots {
			if slots[i].HoldLapsed(now) {
				lapsed = append(lapsed, slots[i].SeatID)
				slots[i].Status = model.SeatFree
				slots[i].HoldOwnerID = nil
				slots[i].HoldExpiresAt = nil
			}
		}
		if len(lapsed) > 0 {
			if err := tx.MarkFree(ctx, screeningID, lapsed); err != nil {
				return err
			}
		}
		out = slots
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
