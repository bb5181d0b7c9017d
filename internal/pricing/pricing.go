// Package pricing computes order totals from seat prices, food lines,
// voucher percentages and redeemed loyalty points.  Everything here is
// pure arithmetic: no I/O, no clocks, no state.
package pricing

// Exchange rates fixed by business policy.  One loyalty point is worth
// 1,000 currency units when redeemed, and one point is earned for every
// 10,000 units of a paid order's final total.
const (
	PointValue  int64 = 1000
	EarnDivisor int64 = 10000
)

// FoodLine is one food item with quantity, as selected at checkout.
type FoodLine struct {
	FoodItemID uint64
	UnitPrice  int64
	Quantity   uint32
}

// Quote is the result of a total computation.  Clamped is set when the
// requested discounts exceeded the subtotal and the total was clamped
// to zero; this is a caller-visible warning, not an error.
type Quote struct {
	SeatSubtotal    int64
	FoodSubtotal    int64
	Subtotal        int64
	VoucherDiscount int64
	PointDiscount   int64
	Total           int64
	Clamped         bool
}

// ComputeTotal prices an order.  The voucher discount is voucherPercent
// percent of the subtotal (integer division, fractions dropped); the
// point discount is pointsRedeemed times PointValue.  When the combined
// discount exceeds the subtotal the total clamps at zero and Clamped is
// set.  Calling it twice with identical inputs yields identical output.
func ComputeTotal(seatPrices []int64, food []FoodLine, voucherPercent int, pointsRedeemed int64) Quote {
	var q Quote
	for _, p := range seatPrices {
		q.SeatSubtotal += p
	}
	for _, f := range food {
		q.FoodSubtotal += f.UnitPrice * int64(f.Quantity)
	}
	q.Subtotal = q.SeatSubtotal + q.FoodSubtotal
	if voucherPercent > 0 {
		q.VoucherDiscount = q.Subtotal * int64(voucherPercent) / 100
	}
	if pointsRedeemed > 0 {
		q.PointDiscount = pointsRedeemed * PointValue
	}
	q.Total = q.Subtotal - q.VoucherDiscount - q.PointDiscount
	if q.Total < 0 {
		q.Total = 0
		q.Clamped = true
	}
	return q
}

// PointsEarned returns the loyalty points credited for a paid order
// with the given final total.
func PointsEarned(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return total / EarnDivisor
}
