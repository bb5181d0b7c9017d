package model

import "time"

// Seat slot states.  FREE seats can be held, HELD seats belong to one
// owner until the hold expires, and SOLD is terminal.  An expired HELD
// slot counts as FREE for availability checks and is flipped back
// lazily the next time the row is touched.
const (
	SeatFree = "FREE"
	SeatHeld = "HELD"
	SeatSold = "SOLD"
)

// SeatSlot binds one physical seat to one screening and carries the
// per-screening availability state.  There is exactly one row per seat
// per screening, created when the screening is scheduled, and rows are
// never deleted so completed sales stay auditable.  The hold owner and
// expiry live on the row itself; at most one non-expired hold can exist
// per slot at any instant.
//
// Fields:
//  ID            – primary key identifier.
//  ScreeningID   – screening this slot belongs to.
//  SeatID        – physical seat reference from the room catalog.
//  RowLabel      – seat row label (e.g. "A").
//  SeatNumber    – seat number within the row.
//  Tier          – seat tier (STANDARD, VIP, ...) driving the price.
//  Price         – price for this seat at this screening, in currency units.
//  Status        – FREE, HELD or SOLD.
//  HoldOwnerID   – user currently holding the seat (nil unless HELD).
//  HoldExpiresAt – when the current hold lapses (nil unless HELD).
//  Version       – bumped on every mutation.
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type SeatSlot struct {
	ID            uint64     // seat_slots.id
	ScreeningID   uint64     // seat_slots.screening_id
	SeatID        uint64     // seat_slots.seat_id
	RowLabel      string     // seat_slots.row_label
	SeatNumber    uint32     // seat_slots.seat_number
	Tier          string     // seat_slots.tier
	Price         int64      // seat_slots.price
	Status        string     // seat_slots.status
	HoldOwnerID   *uint64    // seat_slots.hold_owner_id (nullable)
	HoldExpiresAt *time.Time // seat_slots.hold_expires_at (nullable)
	Version       uint32     // seat_slots.version
	CreatedAt     time.Time  // seat_slots.created_at
	UpdatedAt     time.Time  // seat_slots.updated_at
}

// HeldBy reports whether the slot is currently held by the given user
// with a hold that has not yet expired at the supplied instant.
func (s *SeatSlot) HeldBy(userID uint64, now time.Time) bool {
	if s.Status != SeatHeld || s.HoldOwnerID == nil || s.HoldExpiresAt == nil {
		return false
	}
	return *s.HoldOwnerID == userID && s.HoldExpiresAt.After(now)
}

// SoldTo reports whether the slot was sold to the given user.  The
// hold owner is kept on the row when a sale completes, so a confirmed
// purchase stays attributable to its buyer.
func (s *SeatSlot) SoldTo(userID uint64) bool {
	return s.Status == SeatSold && s.HoldOwnerID != nil && *s.HoldOwnerID == userID
}

// HoldLapsed reports whether the slot carries a hold whose expiry has
// passed.  Such slots are treated as FREE by availability checks.
func (s *SeatSlot) HoldLapsed(now time.Time) bool {
	return s.Status == SeatHeld && s.HoldExpiresAt != nil && !s.HoldExpiresAt.After(now)
}
