package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/starlight-cinema/booking-core/internal/inventory"
	"github.com/starlight-cinema/booking-core/internal/repository"
)

// BrowseHandler serves the unauthenticated browsing endpoints: screening
// details, live seat maps and the food menu.  Responses expose only
// customer-safe fields.
type BrowseHandler struct {
	ScreeningRepo *repository.ScreeningRepo
	FoodRepo      *repository.FoodRepo
	Inventory     *inventory.Inventory
}

// NewBrowseHandler constructs a BrowseHandler.  All dependencies must be
// non-nil.
func NewBrowseHandler(screeningRepo *repository.ScreeningRepo, foodRepo *repository.FoodRepo, inv *inventory.Inventory) *BrowseHandler {
	if screeningRepo == nil || foodRepo == nil || inv == nil {
		panic("nil dependency passed to NewBrowseHandler")
	}
	return &BrowseHandler{ScreeningRepo: screeningRepo, FoodRepo: foodRepo, Inventory: inv}
}

// publicScreening is the customer-facing projection of a screening.
type publicScreening struct {
	ID         uint64    `json:"id"`
	MovieTitle string    `json:"movie_title"`
	StartsAt   time.Time `json:"starts_at"`
	RuntimeMin uint32    `json:"runtime_min"`
	Status     string    `json:"status"`
}

// publicSeat is one entry of the seat map.  Hold ownership details are
// never exposed; customers only see whether a seat can be picked.
type publicSeat struct {
	SeatID     uint64 `json:"seat_id"`
	RowLabel   string `json:"row_label"`
	SeatNumber uint32 `json:"seat_number"`
	Tier       string `json:"tier"`
	Price      int64  `json:"price"`
	Status     string `json:"status"`
}

// GetScreening handles GET /v1/screenings/:id.
func (h *BrowseHandler) GetScreening(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	ctx := c.Request().Context()
	s, err := h.ScreeningRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrScreeningNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "screening not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": publicScreening{
		ID:         s.ID,
		MovieTitle: s.MovieTitle,
		StartsAt:   s.StartsAt,
		RuntimeMin: s.RuntimeMin,
		Status:     s.Status,
	}})
}

// GetSeatMap handles GET /v1/screenings/:id/seats.  The snapshot comes
// straight from the inventory so lapsed holds already read as FREE;
// this endpoint must never be served from a cache.
func (h *BrowseHandler) GetSeatMap(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	ctx := c.Request().Context()
	if _, err := h.ScreeningRepo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrScreeningNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "screening not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	slots, err := h.Inventory.Snapshot(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load seat map"})
	}
	seats := make([]publicSeat, 0, len(slots))
	for _, s := range slots {
		seats = append(seats, publicSeat{
			SeatID:     s.SeatID,
			RowLabel:   s.RowLabel,
			SeatNumber: s.SeatNumber,
			Tier:       s.Tier,
			Price:      s.Price,
			Status:     s.Status,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"screening_id": id, "seats": seats})
}

// ListFood handles GET /v1/food and returns the active food menu.
func (h *BrowseHandler) ListFood(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.FoodRepo.ListActive(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	type foodOut struct {
		ID        uint64 `json:"id"`
		Name      string `json:"name"`
		UnitPrice int64  `json:"unit_price"`
	}
	out := make([]foodOut, 0, len(items))
	for _, f := range items {
		out = append(out, foodOut{ID: f.ID, Name: f.Name, UnitPrice: f.UnitPrice})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}
