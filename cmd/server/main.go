package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/starlight-cinema/booking-core/internal/checkout"
	"github.com/starlight-cinema/booking-core/internal/config"
	"github.com/starlight-cinema/booking-core/internal/database"
	"github.com/starlight-cinema/booking-core/internal/handler"
	"github.com/starlight-cinema/booking-core/internal/inventory"
	"github.com/starlight-cinema/booking-core/internal/ledger"
	"github.com/starlight-cinema/booking-core/internal/payment"
	"github.com/starlight-cinema/booking-core/internal/queue"
	"github.com/starlight-cinema/booking-core/internal/repository"
	"github.com/starlight-cinema/booking-core/internal/router"
	queue_publisher "github.com/starlight-cinema/booking-core/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()

	screeningRepo := repository.NewScreeningRepo(db)
	foodRepo := repository.NewFoodRepo(db)
	seatSlotRepo := repository.NewSeatSlotRepo(db)
	orderRepo := repository.NewOrderRepo(db)
	ledgerRepo := repository.NewLedgerRepo(db)

	inv := inventory.New(seatSlotRepo)
	led := ledger.New(ledgerRepo)
	gateway := payment.NewHTTPGateway(payment.Config{
		BaseURL:    cfg.PayGatewayURL,
		ReturnURL:  cfg.PayReturnURL,
		MerchantID: cfg.PayMerchantID,
		HashSecret: cfg.PayHashSecret,
		Timeout:    10 * time.Second,
	})
	publisher := queue_publisher.New()

	orch := checkout.New(inv, led, orderRepo, screeningRepo, foodRepo, gateway, publisher,
		time.Duration(cfg.HoldTTLMin)*time.Minute)

	// the consumer and sweeper run for the lifetime of the process
	go func() {
		if err := queue.StartOrderConsumer(); err != nil {
			log.Printf("order consumer stopped: %v", err)
		}
	}()
	go orch.RunSweeper(context.Background(), cfg.SweepInterval)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterBrowse(e, handler.NewBrowseHandler(screeningRepo, foodRepo, inv), rdb)
	router.RegisterPayments(e, handler.NewPaymentCallbackHandler(orch, cfg.PayHashSecret))
	router.RegisterCheckout(e, handler.NewCheckoutHandler(orch, orderRepo, led), cfg.JWTSecret, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
