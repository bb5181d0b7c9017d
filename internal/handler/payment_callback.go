package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/starlight-cinema/booking-core/internal/checkout"
	"github.com/starlight-cinema/booking-core/internal/payment"
)

// PaymentCallbackHandler receives the gateway's server-to-server result
// callback.  The gateway may deliver the same result more than once and
// may race the abandonment sweeper; the orchestrator arbitrates, this
// handler only verifies the signature and reports the outcome.
type PaymentCallbackHandler struct {
	Orchestrator *checkout.Orchestrator
	HashSecret   string
}

// NewPaymentCallbackHandler constructs a PaymentCallbackHandler.
func NewPaymentCallbackHandler(orch *checkout.Orchestrator, hashSecret string) *PaymentCallbackHandler {
	if orch == nil || hashSecret == "" {
		panic("nil dependency passed to NewPaymentCallbackHandler")
	}
	return &PaymentCallbackHandler{Orchestrator: orch, HashSecret: hashSecret}
}

// Callback handles GET /v1/payments/callback.  The query string carries
// the gateway ref, result code and an HMAC signature over the sorted
// parameters.  Requests with a missing or invalid signature are
// rejected before any state is touched.
func (h *PaymentCallbackHandler) Callback(c echo.Context) error {
	result, err := payment.VerifyCallback(c.QueryParams(), h.HashSecret)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid callback signature"})
	}
	order, err := h.Orchestrator.Reconcile(c.Request().Context(), result.Ref, result.Code)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrOrderNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown payment reference"})
		case errors.Is(err, checkout.ErrSeatLostDuringPayment):
			// payment was captured but the seats could not be secured;
			// the order is failed and flagged for refund
			return c.JSON(http.StatusOK, echo.Map{
				"order_code":      order.PublicCode,
				"status":          order.Status,
				"refund_required": true,
			})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to process payment result"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"order_code": order.PublicCode,
		"status":     order.Status,
	})
}
