package model

import "time"

// Order lifecycle states.  PENDING orders are still being assembled,
// AWAITING_PAYMENT orders have been handed to the gateway, and PAID,
// FAILED and CANCELLED are terminal.
const (
	OrderPending         = "PENDING"
	OrderAwaitingPayment = "AWAITING_PAYMENT"
	OrderPaid            = "PAID"
	OrderFailed          = "FAILED"
	OrderCancelled       = "CANCELLED"
)

// Failure reasons recorded on terminal orders.
const (
	FailReasonGatewayNotFound = "GATEWAY_NOT_FOUND"
	FailReasonGatewayError    = "GATEWAY_ERROR"
	FailReasonSeatLost        = "SEAT_LOST_DURING_PAYMENT"
	FailReasonTimeout         = "PAYMENT_TIMEOUT"
	FailReasonUserAbort       = "USER_ABORT"
)

// Order records a single checkout attempt for a screening.  It owns its
// seat and food line items and carries the applied discounts and the
// computed total.  Redeemed points are captured on the row at checkout
// time rather than derived from the total afterwards.  Terminal orders
// are never mutated again except for the refund_required flag set when
// a paid order loses its seats.
//
// Fields:
//  ID             – primary key identifier.
//  PublicCode     – opaque code exposed to clients and the gateway.
//  UserID         – user performing the checkout.
//  ScreeningID    – screening being booked.
//  Status         – order state (see constants above).
//  VoucherID      – applied voucher, if any.
//  VoucherPercent – percentage discount of the applied voucher.
//  PointsRedeemed – loyalty points spent on this order.
//  Subtotal       – seat + food subtotal before discounts.
//  Total          – final amount after discounts, never negative.
//  GatewayRef     – payment gateway transaction reference, if any.
//  FailReason     – why a FAILED/CANCELLED order ended there.
//  RefundRequired – payment was captured but the order failed; needs
//                   manual refund handling.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Order struct {
	ID             uint64    // orders.id
	PublicCode     string    // orders.public_code
	UserID         uint64    // orders.user_id
	ScreeningID    uint64    // orders.screening_id
	Status         string    // orders.status
	VoucherID      *uint64   // orders.voucher_id (nullable)
	VoucherPercent int       // orders.voucher_percent
	PointsRedeemed int64     // orders.points_redeemed
	Subtotal       int64     // orders.subtotal
	Total          int64     // orders.total
	GatewayRef     *string   // orders.gateway_ref (nullable)
	FailReason     *string   // orders.fail_reason (nullable)
	RefundRequired bool      // orders.refund_required
	CreatedAt      time.Time // orders.created_at
	UpdatedAt      time.Time // orders.updated_at
}

// Terminal reports whether the order has reached a final state.
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderPaid, OrderFailed, OrderCancelled:
		return true
	}
	return false
}

// OrderSeat is one seat line item of an order.  The price is copied
// from the seat slot at checkout time so later price changes do not
// affect existing orders.
type OrderSeat struct {
	ID         uint64 // order_seats.id
	OrderID    uint64 // order_seats.order_id
	SeatSlotID uint64 // order_seats.seat_slot_id
	SeatID     uint64 // order_seats.seat_id
	RowLabel   string // order_seats.row_label
	SeatNumber uint32 // order_seats.seat_number
	Price      int64  // order_seats.price
}

// OrderFood is one food line item of an order.
type OrderFood struct {
	ID         uint64 // order_food.id
	OrderID    uint64 // order_food.order_id
	FoodItemID uint64 // order_food.food_item_id
	Name       string // order_food.name
	Quantity   uint32 // order_food.quantity
	UnitPrice  int64  // order_food.unit_price
}
