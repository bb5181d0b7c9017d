package model

import "time"

// LoyaltyEntry is one debit or credit on a user's loyalty point
// balance.  Spends carry a negative delta, earns a positive one.  The
// balance is the sum of a user's entries and must never go negative;
// the ledger component rejects redemptions that would breach this.
type LoyaltyEntry struct {
	ID        uint64    // loyalty_ledger.id
	UserID    uint64    // loyalty_ledger.user_id
	Delta     int64     // loyalty_ledger.delta (negative = spend)
	OrderID   uint64    // loyalty_ledger.order_id
	CreatedAt time.Time // loyalty_ledger.created_at
}
