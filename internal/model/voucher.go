package model

import "time"

// Voucher is a percentage discount code.  Each voucher may be redeemed
// at most once per user; redemption is recorded only when the paying
// order is reconciled successfully.
//
// Fields:
//  ID        – primary key identifier.
//  Code      – unique case-sensitive voucher code.
//  Percent   – discount percentage applied to the order subtotal.
//  ExpiresAt – vouchers are rejected after this instant.
//  CreatedAt – creation timestamp.
type Voucher struct {
	ID        uint64    // vouchers.id
	Code      string    // vouchers.code
	Percent   int       // vouchers.percent
	ExpiresAt time.Time // vouchers.expires_at
	CreatedAt time.Time // vouchers.created_at
}

// VoucherRedemption records that a user has consumed a voucher.  The
// (user_id, voucher_id) pair is unique; the order reference is kept as
// provenance only.
type VoucherRedemption struct {
	ID        uint64    // voucher_redemptions.id
	UserID    uint64    // voucher_redemptions.user_id
	VoucherID uint64    // voucher_redemptions.voucher_id
	OrderID   uint64    // voucher_redemptions.order_id
	CreatedAt time.Time // voucher_redemptions.created_at
}
