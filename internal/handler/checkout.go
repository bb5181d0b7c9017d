package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/starlight-cinema/booking-core/internal/checkout"
	"github.com/starlight-cinema/booking-core/internal/inventory"
	"github.com/starlight-cinema/booking-core/internal/ledger"
	"github.com/starlight-cinema/booking-core/internal/model"
	"github.com/starlight-cinema/booking-core/internal/payment"
	"github.com/starlight-cinema/booking-core/internal/repository"
)

// CheckoutHandler exposes the authenticated order lifecycle: starting a
// checkout, adjusting discounts, initiating payment, cancelling and
// reading orders.  All methods assume JWT authentication has already
// run; business rules live in the checkout orchestrator, this layer
// only binds requests and maps component errors to HTTP responses.
type CheckoutHandler struct {
	Orchestrator *checkout.Orchestrator
	OrderRepo    *repository.OrderRepo
	Ledger       *ledger.Ledger
}

// NewCheckoutHandler constructs a CheckoutHandler.  All dependencies
// must be non-nil.
func NewCheckoutHandler(orch *checkout.Orchestrator, orderRepo *repository.OrderRepo, led *ledger.Ledger) *CheckoutHandler {
	if orch == nil || orderRepo == nil || led == nil {
		panic("nil dependency passed to NewCheckoutHandler")
	}
	return &CheckoutHandler{Orchestrator: orch, OrderRepo: orderRepo, Ledger: led}
}

// orderView is the JSON projection of an order shared by every order
// response.
type orderView struct {
	ID             uint64    `json:"id"`
	PublicCode     string    `json:"public_code"`
	ScreeningID    uint64    `json:"screening_id"`
	Status         string    `json:"status"`
	VoucherPercent int       `json:"voucher_percent,omitempty"`
	PointsRedeemed int64     `json:"points_redeemed,omitempty"`
	Subtotal       int64     `json:"subtotal"`
	Total          int64     `json:"total"`
	FailReason     *string   `json:"fail_reason,omitempty"`
	RefundRequired bool      `json:"refund_required,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func viewOf(o *model.Order) orderView {
	return orderView{
		ID:             o.ID,
		PublicCode:     o.PublicCode,
		ScreeningID:    o.ScreeningID,
		Status:         o.Status,
		VoucherPercent: o.VoucherPercent,
		PointsRedeemed: o.PointsRedeemed,
		Subtotal:       o.Subtotal,
		Total:          o.Total,
		FailReason:     o.FailReason,
		RefundRequired: o.RefundRequired,
		CreatedAt:      o.CreatedAt,
	}
}

// StartCheckout handles POST /v1/screenings/:id/checkout.  The body
// carries the seat IDs to hold and optional food lines.  On success the
// seats are held for the configured TTL and a PENDING order is
// returned with 201.
func (h *CheckoutHandler) StartCheckout(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	screeningID, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	var body struct {
		SeatIDs []uint64 `json:"seat_ids"`
		Food    []struct {
			FoodItemID uint64 `json:"food_item_id"`
			Quantity   uint32 `json:"quantity"`
		} `json:"food"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	// deduplicate seat IDs so a repeated ID cannot hold the same slot twice
	unique := make([]uint64, 0, len(body.SeatIDs))
	seen := make(map[uint64]struct{})
	for _, id := range body.SeatIDs {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no valid seat IDs provided"})
	}
	food := make([]checkout.FoodLine, 0, len(body.Food))
	for _, f := range body.Food {
		if f.FoodItemID == 0 || f.Quantity == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid food line"})
		}
		food = append(food, checkout.FoodLine{FoodItemID: f.FoodItemID, Quantity: f.Quantity})
	}

	order, err := h.Orchestrator.StartCheckout(c.Request().Context(), userID, screeningID, unique, food)
	if err != nil {
		var unavailable *inventory.UnavailableSeatsError
		var unknownFood *checkout.UnknownFoodError
		switch {
		case errors.As(err, &unavailable):
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error":       "some seats are unavailable",
				"unavailable": unavailable.SeatIDs,
			})
		case errors.Is(err, inventory.ErrSeatUnavailable):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "some seats are unavailable"})
		case errors.As(err, &unknownFood):
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error":   "unknown food items",
				"unknown": unknownFood.FoodItemIDs,
			})
		case errors.Is(err, repository.ErrScreeningNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "screening not found"})
		case errors.Is(err, checkout.ErrScreeningUnavailable):
			return c.JSON(http.StatusConflict, echo.Map{"error": "screening is not open for booking"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start checkout"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"order":      viewOf(order),
		"expires_at": time.Now().UTC().Add(h.Orchestrator.HoldTTL()).Format(time.RFC3339),
	})
}

// ApplyDiscount handles POST /v1/orders/:id/discount.  An empty voucher
// code together with zero points clears any previously applied
// discount.  Only PENDING orders owned by the caller can be adjusted.
func (h *CheckoutHandler) ApplyDiscount(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	var body struct {
		VoucherCode string `json:"voucher_code"`
		Points      int64  `json:"points"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Points < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "points must not be negative"})
	}

	order, quote, err := h.Orchestrator.ApplyDiscount(c.Request().Context(), userID, orderID, body.VoucherCode, body.Points)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrOrderNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
		case errors.Is(err, checkout.ErrNotOrderOwner):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		case errors.Is(err, checkout.ErrInvalidOrderState):
			return c.JSON(http.StatusConflict, echo.Map{"error": "order is no longer adjustable"})
		case errors.Is(err, ledger.ErrVoucherNotFound):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "voucher not found"})
		case errors.Is(err, ledger.ErrVoucherExpired):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "voucher expired"})
		case errors.Is(err, ledger.ErrVoucherAlreadyUsed):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "voucher already used"})
		case errors.Is(err, ledger.ErrInsufficientPoints):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "insufficient points"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to apply discount"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"order": viewOf(order),
		"quote": echo.Map{
			"seat_subtotal":    quote.SeatSubtotal,
			"food_subtotal":    quote.FoodSubtotal,
			"subtotal":         quote.Subtotal,
			"voucher_discount": quote.VoucherDiscount,
			"point_discount":   quote.PointDiscount,
			"total":            quote.Total,
			"clamped":          quote.Clamped,
		},
	})
}

// InitiatePayment handles POST /v1/orders/:id/payment.  On success the
// order moves to AWAITING_PAYMENT and the customer is handed the
// gateway redirect URL.
func (h *CheckoutHandler) InitiatePayment(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	redirectURL, err := h.Orchestrator.InitiatePayment(c.Request().Context(), userID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrOrderNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
		case errors.Is(err, checkout.ErrNotOrderOwner):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		case errors.Is(err, checkout.ErrInvalidOrderState):
			return c.JSON(http.StatusConflict, echo.Map{"error": "order is not awaiting payment initiation"})
		case errors.Is(err, payment.ErrGatewayUnavailable):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway unavailable, please retry"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to initiate payment"})
	}
	return c.JSON(http.StatusOK, echo.Map{"redirect_url": redirectURL})
}

// CancelOrder handles DELETE /v1/orders/:id.  Held seats are released
// and the order moves to CANCELLED; terminal orders cannot be
// cancelled.
func (h *CheckoutHandler) CancelOrder(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	if _, err := h.Orchestrator.Cancel(c.Request().Context(), userID, orderID); err != nil {
		switch {
		case errors.Is(err, checkout.ErrOrderNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
		case errors.Is(err, checkout.ErrNotOrderOwner):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		case errors.Is(err, checkout.ErrInvalidOrderState):
			return c.JSON(http.StatusConflict, echo.Map{"error": "order already settled"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cancel order"})
	}
	return c.NoContent(http.StatusNoContent)
}

// GetOrder handles GET /v1/orders/:id and returns the full order with
// its seat and food lines.
func (h *CheckoutHandler) GetOrder(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	order, seats, food, err := h.Orchestrator.GetOrder(c.Request().Context(), userID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrOrderNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
		case errors.Is(err, checkout.ErrNotOrderOwner):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch order"})
	}
	type seatOut struct {
		SeatID     uint64 `json:"seat_id"`
		RowLabel   string `json:"row_label"`
		SeatNumber uint32 `json:"seat_number"`
		Price      int64  `json:"price"`
	}
	type foodOut struct {
		FoodItemID uint64 `json:"food_item_id"`
		Name       string `json:"name"`
		Quantity   uint32 `json:"quantity"`
		UnitPrice  int64  `json:"unit_price"`
	}
	seatsOut := make([]seatOut, 0, len(seats))
	for _, s := range seats {
		seatsOut = append(seatsOut, seatOut{SeatID: s.SeatID, RowLabel: s.RowLabel, SeatNumber: s.SeatNumber, Price: s.Price})
	}
	foodOutList := make([]foodOut, 0, len(food))
	for _, f := range food {
		foodOutList = append(foodOutList, foodOut{FoodItemID: f.FoodItemID, Name: f.Name, Quantity: f.Quantity, UnitPrice: f.UnitPrice})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"order": viewOf(order),
		"seats": seatsOut,
		"food":  foodOutList,
	})
}

// ListOrders handles GET /v1/my-orders and returns the caller's orders,
// newest first.
func (h *CheckoutHandler) ListOrders(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orders, err := h.OrderRepo.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load orders"})
	}
	items := make([]orderView, 0, len(orders))
	for i := range orders {
		items = append(items, viewOf(&orders[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetPoints handles GET /v1/my-points and returns the caller's current
// loyalty point balance.
func (h *CheckoutHandler) GetPoints(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	balance, err := h.Ledger.Balance(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load balance"})
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": balance})
}
