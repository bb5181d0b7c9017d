// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderPaidEvent is published when an order is reconciled as paid.
// It carries enough information for downstream consumers to log,
// notify, or feed analytics without querying the primary database.
type OrderPaidEvent struct {
	OrderID      uint64   `json:"order_id"`
	PublicCode   string   `json:"public_code"`
	UserID       uint64   `json:"user_id"`
	ScreeningID  uint64   `json:"screening_id"`
	MovieTitle   string   `json:"movie_title"`
	SeatIDs      []uint64 `json:"seat_ids"`
	Total        int64    `json:"total"`
	PointsEarned int64    `json:"points_earned"`
	PaidAt       string   `json:"paid_at"`
}
