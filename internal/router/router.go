package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/starlight-cinema/booking-core/internal/config"
	"github.com/starlight-cinema/booking-core/internal/handler"
	"github.com/starlight-cinema/booking-core/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers and monitoring to verify the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterBrowse registers the unauthenticated browsing endpoints.
// Screening details and the food menu are cheap to cache; the seat map
// deliberately bypasses the cache so customers always see live
// availability.
func RegisterBrowse(e *echo.Echo, b *handler.BrowseHandler, rdb *redis.Client) {
	cached := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	e.GET("/v1/screenings/:id", b.GetScreening, cached)
	e.GET("/v1/food", b.ListFood, cached)
	// live seat availability, never cached
	e.GET("/v1/screenings/:id/seats", b.GetSeatMap)
}

// RegisterPayments registers the gateway's server-to-server callback.
// The gateway cannot carry a customer JWT, so the route is public and
// protected by the HMAC signature instead.
func RegisterPayments(e *echo.Echo, p *handler.PaymentCallbackHandler) {
	e.GET("/v1/payments/callback", p.Callback)
}

// RegisterCheckout registers the authenticated order lifecycle routes.
// All of them require a valid access token from the auth service; the
// rate limiter runs after authentication so buckets are keyed per user.
func RegisterCheckout(e *echo.Echo, h *handler.CheckoutHandler, jwtSecret string, rdb *redis.Client) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("CUSTOMER"))
	g.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	g.POST("/screenings/:id/checkout", h.StartCheckout)
	g.POST("/orders/:id/discount", h.ApplyDiscount)
	g.POST("/orders/:id/payment", h.InitiatePayment)
	g.DELETE("/orders/:id", h.CancelOrder)
	g.GET("/orders/:id", h.GetOrder)
	g.GET("/my-orders", h.ListOrders)
	g.GET("/my-points", h.GetPoints)
}
