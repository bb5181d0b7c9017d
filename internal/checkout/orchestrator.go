// Package checkout drives the multi-step booking flow: seat holds,
// food lines, discounts, the payment round-trip and the asynchronous
// reconciliation of the gateway result.  Every order walks the state
// machine PENDING → AWAITING_PAYMENT → {PAID | FAILED | CANCELLED};
// all transitions out of AWAITING_PAYMENT go through an atomic
// compare-and-set on the order status so reconciliation and the
// abandonment sweep can never both process the same order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/starlight-cinema/booking-core/internal/inventory"
	"github.com/starlight-cinema/booking-core/internal/model"
	"github.com/starlight-cinema/booking-core/internal/payment"
	"github.com/starlight-cinema/booking-core/internal/pricing"
	"github.com/starlight-cinema/booking-core/internal/queue"
)

var (
	// ErrOrderNotFound is returned when no order matches the lookup.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOrderOwner is returned when a user touches someone else's order.
	ErrNotOrderOwner = errors.New("order belongs to another user")
	// ErrInvalidOrderState is returned when an operation is not legal in
	// the order's current state.
	ErrInvalidOrderState = errors.New("invalid order state")
	// ErrScreeningUnavailable is returned when the screening is not open
	// for booking (cancelled, ended, or already started).
	ErrScreeningUnavailable = errors.New("screening unavailable")
	// ErrSeatLostDuringPayment is returned when the gateway reported
	// success but the seat holds had already lapsed and the seats are no
	// longer confirmable.  Inventory correctness outranks payment
	// success: the order fails closed and is flagged refund-required.
	ErrSeatLostDuringPayment = errors.New("seat lost during payment")
)

// UnknownFoodError carries the food item IDs that were not found in
// the catalog (or are inactive).
type UnknownFoodError struct {
	FoodItemIDs []uint64
}

func (e *UnknownFoodError) Error() string {
	return fmt.Sprintf("%d food items unknown or inactive", len(e.FoodItemIDs))
}

// SeatInventory is the slice of the inventory component the
// orchestrator needs.
type SeatInventory interface {
	Hold(ctx context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64, ttl time.Duration) ([]model.SeatSlot, error)
	Release(ctx context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64) (int, error)
	Confirm(ctx context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64) error
}

// Ledger is the slice of the voucher/loyalty component the
// orchestrator needs.
type Ledger interface {
	ValidateVoucher(ctx context.Context, userID uint64, code string) (*model.Voucher, error)
	ValidatePoints(ctx context.Context, userID uint64, points int64) error
	Commit(ctx context.Context, userID uint64, voucherID *uint64, pointsRedeemed, pointsEarned int64, orderID uint64) error
}

// OrderStore persists orders and their line items.  CASStatus performs
// an atomic status transition and reports whether this caller won it.
type OrderStore interface {
	Create(ctx context.Context, order *model.Order, seats []model.OrderSeat, food []model.OrderFood) error
	GetByID(ctx context.Context, id uint64) (*model.Order, error)
	GetByGatewayRef(ctx context.Context, ref string) (*model.Order, error)
	Seats(ctx context.Context, orderID uint64) ([]model.OrderSeat, error)
	Food(ctx context.Context, orderID uint64) ([]model.OrderFood, error)
	CASStatus(ctx context.Context, orderID uint64, from, to string) (bool, error)
	UpdateDiscount(ctx context.Context, orderID uint64, voucherID *uint64, percent int, points, total int64) error
	SetGatewayRef(ctx context.Context, orderID uint64, ref string) error
	SetOutcome(ctx context.Context, orderID uint64, failReason string, refundRequired bool) error
	ListStaleBefore(ctx context.Context, status string, cutoff time.Time) ([]model.Order, error)
}

// ScreeningCatalog reads screenings from the catalog mirror.
type ScreeningCatalog interface {
	GetByID(ctx context.Context, id uint64) (*model.Screening, error)
}

// FoodCatalog reads active food items.  Unknown IDs are simply absent
// from the result.
type FoodCatalog interface {
	GetByIDs(ctx context.Context, ids []uint64) ([]model.FoodItem, error)
}

// Publisher emits domain events after successful reconciliation.
type Publisher interface {
	PublishOrderPaid(ctx context.Context, ev queue.OrderPaidEvent) error
}

// FoodLine is one requested food item at checkout.
type FoodLine struct {
	FoodItemID uint64 `json:"food_item_id"`
	Quantity   uint32 `json:"quantity"`
}

// Orchestrator wires the components together.  The hold TTL bounds
// abandoned carts; the sweep cancels orders stuck past twice that TTL.
type Orchestrator struct {
	inventory  SeatInventory
	ledger     Ledger
	orders     OrderStore
	screenings ScreeningCatalog
	food       FoodCatalog
	gateway    payment.Gateway
	publisher  Publisher // optional
	holdTTL    time.Duration
	now        func() time.Time
}

// New constructs an Orchestrator.  publisher may be nil when no broker
// is configured.
func New(inv SeatInventory, led Ledger, orders OrderStore, screenings ScreeningCatalog, food FoodCatalog, gw payment.Gateway, publisher Publisher, holdTTL time.Duration) *Orchestrator {
	if inv == nil || led == nil || orders == nil || screenings == nil || food == nil || gw == nil {
		panic("nil dependency passed to checkout.New")
	}
	if holdTTL <= 0 {
		holdTTL = 10 * time.Minute
	}
	return &Orchestrator{
		inventory:  inv,
		ledger:     led,
		orders:     orders,
		screenings: screenings,
		food:       food,
		gateway:    gw,
		publisher:  publisher,
		holdTTL:    holdTTL,
		now:        time.Now,
	}
}

// HoldTTL returns the configured seat hold duration.
func (o *Orchestrator) HoldTTL() time.Duration { return o.holdTTL }

// StartCheckout holds the requested seats, prices the selection and
// creates a PENDING order owning the seat and food lines.  The hold
// and the order are created together: if persisting the order fails,
// the freshly acquired holds are released again.
func (o *Orchestrator) StartCheckout(ctx context.Context, userID, screeningID uint64, seatIDs []uint64, foodLines []FoodLine) (*model.Order, error) {
	scr, err := o.screenings.GetByID(ctx, screeningID)
	if err != nil {
		return nil, err
	}
	now := o.now().UTC()
	if scr.Status != model.ScreeningAvailable || !scr.StartsAt.After(now) {
		return nil, ErrScreeningUnavailable
	}

	orderFood, foodSubLines, err := o.resolveFood(ctx, foodLines)
	if err != nil {
		return nil, err
	}

	held, err := o.inventory.Hold(ctx, screeningID, seatIDs, userID, o.holdTTL)
	if err != nil {
		return nil, err
	}

	seatPrices := make([]int64, 0, len(held))
	orderSeats := make([]model.OrderSeat, 0, len(held))
	for _, s := range held {
		seatPrices = append(seatPrices, s.Price)
		orderSeats = append(orderSeats, model.OrderSeat{
			SeatSlotID: s.ID,
			SeatID:     s.SeatID,
			RowLabel:   s.RowLabel,
			SeatNumber: s.SeatNumber,
			Price:      s.Price,
		})
	}
	quote := pricing.ComputeTotal(seatPrices, foodSubLines, 0, 0)

	order := &model.Order{
		PublicCode:  uuid.NewString(),
		UserID:      userID,
		ScreeningID: screeningID,
		Status:      model.OrderPending,
		Subtotal:    quote.Subtotal,
		Total:       quote.Total,
	}
	if err := o.orders.Create(ctx, order, orderSeats, orderFood); err != nil {
		// Compensate: do not leave seats held by an order that never existed.
		if _, relErr := o.inventory.Release(ctx, screeningID, seatIDs, userID); relErr != nil {
			log.Printf("checkout: release after failed create: %v", relErr)
		}
		return nil, err
	}
	return order, nil
}

func (o *Orchestrator) resolveFood(ctx context.Context, lines []FoodLine) ([]model.OrderFood, []pricing.FoodLine, error) {
	if len(lines) == 0 {
		return nil, nil, nil
	}
	ids := make([]uint64, 0, len(lines))
	for _, l := range lines {
		if l.Quantity == 0 {
			return nil, nil, fmt.Errorf("quantity must be positive for food item %d", l.FoodItemID)
		}
		ids = append(ids, l.FoodItemID)
	}
	items, err := o.food.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[uint64]model.FoodItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	var missing []uint64
	orderFood := make([]model.OrderFood, 0, len(lines))
	priced := make([]pricing.FoodLine, 0, len(lines))
	for _, l := range lines {
		it, ok := byID[l.FoodItemID]
		if !ok {
			missing = append(missing, l.FoodItemID)
			continue
		}
		orderFood = append(orderFood, model.OrderFood{
			FoodItemID: it.ID,
			Name:       it.Name,
			Quantity:   l.Quantity,
			UnitPrice:  it.UnitPrice,
		})
		priced = append(priced, pricing.FoodLine{FoodItemID: it.ID, UnitPrice: it.UnitPrice, Quantity: l.Quantity})
	}
	if len(missing) > 0 {
		return nil, nil, &UnknownFoodError{FoodItemIDs: missing}
	}
	return orderFood, priced, nil
}

// ApplyDiscount validates the voucher and/or point redemption against
// the ledger, recomputes the total from the order's stored lines and
// persists the new discount fields.  Validation failures leave the
// order untouched.  Passing an empty code and zero points clears any
// previously applied discount.  Only PENDING orders can be changed.
func (o *Orchestrator) ApplyDiscount(ctx context.Context, userID, orderID uint64, voucherCode string, points int64) (*model.Order, pricing.Quote, error) {
	var quote pricing.Quote
	order, err := o.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, quote, err
	}
	if order.Status != model.OrderPending {
		return nil, quote, ErrInvalidOrderState
	}
	if points < 0 {
		return nil, quote, fmt.Errorf("points must not be negative")
	}

	var voucherID *uint64
	percent := 0
	if voucherCode != "" {
		v, err := o.ledger.ValidateVoucher(ctx, userID, voucherCode)
		if err != nil {
			return nil, quote, err
		}
		voucherID = &v.ID
		percent = v.Percent
	}
	if points > 0 {
		if err := o.ledger.ValidatePoints(ctx, userID, points); err != nil {
			return nil, quote, err
		}
	}

	seatPrices, foodLines, err := o.orderLines(ctx, orderID)
	if err != nil {
		return nil, quote, err
	}
	quote = pricing.ComputeTotal(seatPrices, foodLines, percent, points)
	if err := o.orders.UpdateDiscount(ctx, orderID, voucherID, percent, points, quote.Total); err != nil {
		return nil, quote, err
	}

	order.VoucherID = voucherID
	order.VoucherPercent = percent
	order.PointsRedeemed = points
	order.Total = quote.Total
	return order, quote, nil
}

// InitiatePayment requests a redirect URL from the gateway for the
// order's total and moves the order to AWAITING_PAYMENT.  If the
// gateway call fails the order stays PENDING and the call can simply
// be retried.
func (o *Orchestrator) InitiatePayment(ctx context.Context, userID, orderID uint64) (string, error) {
	order, err := o.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return "", err
	}
	if order.Status != model.OrderPending {
		return "", ErrInvalidOrderState
	}

	redirectURL, ref, err := o.gateway.CreatePaymentIntent(ctx, order)
	if err != nil {
		return "", err
	}
	if err := o.orders.SetGatewayRef(ctx, orderID, ref); err != nil {
		return "", err
	}
	ok, err := o.orders.CASStatus(ctx, orderID, model.OrderPending, model.OrderAwaitingPayment)
	if err != nil {
		return "", err
	}
	if !ok {
		// Lost a race against cancellation or the sweep.
		return "", ErrInvalidOrderState
	}
	return redirectURL, nil
}

// Reconcile applies a gateway result to the order identified by the
// gateway reference.  It is idempotent: a duplicate callback for an
// already-terminal order is a no-op success (and, for PAID orders,
// re-drives the seat confirmation and ledger commit, both idempotent,
// so a partially applied reconciliation can heal).  On success the
// held seats are confirmed as sold and the voucher/point movements are
// committed; on failure or cancellation the holds are released and no
// debit happens.  If the holds lapsed while the customer was on the
// gateway, the order fails closed with ErrSeatLostDuringPayment even
// though the gateway reported success.
func (o *Orchestrator) Reconcile(ctx context.Context, gatewayRef string, code payment.ResultCode) (*model.Order, error) {
	order, err := o.orders.GetByGatewayRef(ctx, gatewayRef)
	if err != nil {
		return nil, err
	}

	if order.Terminal() {
		if order.Status == model.OrderPaid && code == payment.ResultSuccess {
			seatIDs, err := o.seatIDs(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			return o.retryPaid(ctx, order, seatIDs)
		}
		return order, nil
	}
	if order.Status != model.OrderAwaitingPayment {
		return nil, ErrInvalidOrderState
	}

	seatIDs, err := o.seatIDs(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	switch code {
	case payment.ResultSuccess:
		return o.reconcileSuccess(ctx, order, seatIDs)
	case payment.ResultUserCancelled:
		return o.reconcileFailure(ctx, order, seatIDs, model.OrderCancelled, model.FailReasonUserAbort)
	case payment.ResultNotFound:
		return o.reconcileFailure(ctx, order, seatIDs, model.OrderFailed, model.FailReasonGatewayNotFound)
	default:
		return o.reconcileFailure(ctx, order, seatIDs, model.OrderFailed, model.FailReasonGatewayError)
	}
}

func (o *Orchestrator) reconcileSuccess(ctx context.Context, order *model.Order, seatIDs []uint64) (*model.Order, error) {
	won, err := o.orders.CASStatus(ctx, order.ID, model.OrderAwaitingPayment, model.OrderPaid)
	if err != nil {
		return nil, err
	}
	if !won {
		// Another reconciliation or the sweep got here first.
		return o.orders.GetByID(ctx, order.ID)
	}
	order.Status = model.OrderPaid

	if err := o.inventory.Confirm(ctx, order.ScreeningID, seatIDs, order.UserID); err != nil {
		if errors.Is(err, inventory.ErrHoldExpiredOrMissing) {
			return o.failSeatLost(ctx, order)
		}
		// The order stays PAID with its holds intact; the next duplicate
		// callback re-drives the confirmation via retryPaid.
		return nil, err
	}

	if err := o.commitLedger(ctx, order); err != nil {
		// The seats are sold; the commit retries on the next duplicate
		// callback because it is idempotent per order.
		log.Printf("checkout: ledger commit for order %d failed: %v", order.ID, err)
		return nil, err
	}

	o.publishPaid(ctx, order, seatIDs)
	return order, nil
}

// retryPaid re-drives the post-payment steps for an order already
// marked PAID.  Confirm must run again before any ledger commit: a
// duplicate callback can arrive while the first one is still inside
// the seat-lost rollback, and committing voucher or point movements
// for a booking that cannot be honored would debit the customer for a
// failed order.  When the seats were confirmed, Confirm is a no-op
// and only the commit is retried.
func (o *Orchestrator) retryPaid(ctx context.Context, order *model.Order, seatIDs []uint64) (*model.Order, error) {
	if err := o.inventory.Confirm(ctx, order.ScreeningID, seatIDs, order.UserID); err != nil {
		if errors.Is(err, inventory.ErrHoldExpiredOrMissing) {
			return o.failSeatLost(ctx, order)
		}
		return nil, err
	}
	if err := o.commitLedger(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// failSeatLost rolls a PAID order back to FAILED after the gateway
// captured the payment but the seats turned out to be unconfirmable.
// The rollback must never be silent: the order is flagged for a
// refund and an operator alert is logged.  Concurrent callers may
// both land here; the CAS loser just re-applies the same outcome.
func (o *Orchestrator) failSeatLost(ctx context.Context, order *model.Order) (*model.Order, error) {
	if _, err := o.orders.CASStatus(ctx, order.ID, model.OrderPaid, model.OrderFailed); err != nil {
		return nil, err
	}
	if err := o.orders.SetOutcome(ctx, order.ID, model.FailReasonSeatLost, true); err != nil {
		return nil, err
	}
	log.Printf("ops-alert: order %d (%s): payment captured but seats lost; refund required", order.ID, order.PublicCode)
	order.Status = model.OrderFailed
	return order, ErrSeatLostDuringPayment
}

func (o *Orchestrator) reconcileFailure(ctx context.Context, order *model.Order, seatIDs []uint64, status, reason string) (*model.Order, error) {
	won, err := o.orders.CASStatus(ctx, order.ID, model.OrderAwaitingPayment, status)
	if err != nil {
		return nil, err
	}
	if !won {
		return o.orders.GetByID(ctx, order.ID)
	}
	if _, err := o.inventory.Release(ctx, order.ScreeningID, seatIDs, order.UserID); err != nil {
		return nil, err
	}
	if err := o.orders.SetOutcome(ctx, order.ID, reason, false); err != nil {
		return nil, err
	}
	order.Status = status
	fr := reason
	order.FailReason = &fr
	return order, nil
}

func (o *Orchestrator) commitLedger(ctx context.Context, order *model.Order) error {
	earned := pricing.PointsEarned(order.Total)
	return o.ledger.Commit(ctx, order.UserID, order.VoucherID, order.PointsRedeemed, earned, order.ID)
}

func (o *Orchestrator) publishPaid(ctx context.Context, order *model.Order, seatIDs []uint64) {
	if o.publisher == nil {
		return
	}
	ev := queue.OrderPaidEvent{
		OrderID:      order.ID,
		PublicCode:   order.PublicCode,
		UserID:       order.UserID,
		ScreeningID:  order.ScreeningID,
		Total:        order.Total,
		PointsEarned: pricing.PointsEarned(order.Total),
		SeatIDs:      seatIDs,
		PaidAt:       o.now().UTC().Format(time.RFC3339),
	}
	if scr, err := o.screenings.GetByID(ctx, order.ScreeningID); err == nil {
		ev.MovieTitle = scr.MovieTitle
	}
	if err := o.publisher.PublishOrderPaid(ctx, ev); err != nil {
		log.Printf("checkout: publish order.paid for order %d failed: %v", order.ID, err)
	}
}

// Cancel aborts a PENDING or AWAITING_PAYMENT order on behalf of its
// owner, releasing any held seats.  Terminal orders cannot be
// cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, userID, orderID uint64) (*model.Order, error) {
	order, err := o.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Terminal() {
		return nil, ErrInvalidOrderState
	}
	won, err := o.orders.CASStatus(ctx, orderID, order.Status, model.OrderCancelled)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrInvalidOrderState
	}
	seatIDs, err := o.seatIDs(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := o.inventory.Release(ctx, order.ScreeningID, seatIDs, userID); err != nil {
		return nil, err
	}
	if err := o.orders.SetOutcome(ctx, orderID, model.FailReasonUserAbort, false); err != nil {
		return nil, err
	}
	order.Status = model.OrderCancelled
	return order, nil
}

// GetOrder returns the order with its line items, enforcing ownership.
func (o *Orchestrator) GetOrder(ctx context.Context, userID, orderID uint64) (*model.Order, []model.OrderSeat, []model.OrderFood, error) {
	order, err := o.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	seats, err := o.orders.Seats(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	food, err := o.orders.Food(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	return order, seats, food, nil
}

func (o *Orchestrator) ownedOrder(ctx context.Context, userID, orderID uint64) (*model.Order, error) {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	return order, nil
}

// orderLines reloads the order's persisted seat and food lines in the
// shape the pricing engine expects.
func (o *Orchestrator) orderLines(ctx context.Context, orderID uint64) ([]int64, []pricing.FoodLine, error) {
	seats, err := o.orders.Seats(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	seatPrices := make([]int64, 0, len(seats))
	for _, s := range seats {
		seatPrices = append(seatPrices, s.Price)
	}
	food, err := o.orders.Food(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	foodLines := make([]pricing.FoodLine, 0, len(food))
	for _, f := range food {
		foodLines = append(foodLines, pricing.FoodLine{
			FoodItemID: f.FoodItemID,
			UnitPrice:  f.UnitPrice,
			Quantity:   f.Quantity,
		})
	}
	return seatPrices, foodLines, nil
}

func (o *Orchestrator) seatIDs(ctx context.Context, orderID uint64) ([]uint64, error) {
	seats, err := o.orders.Seats(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(seats))
	for _, s := range seats {
		ids = append(ids, s.SeatID)
	}
	return ids, nil
}
