package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fineas-core/internal/adapter/api"
	"fineas-core/internal/app"
	"fineas-core/internal/config"

	"github.com/gofiber/fiber/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx := context.Background()

	deps, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer deps.Close()

	go deps.Warm(30 * time.Second)

	// Initialize API Layer (Delivery Layer)
	server := fiber.New(fiber.Config{
		AppName: "Fineas Core",
	})

	handlers := api.Handlers{
		Prompt:  api.NewPromptHandler(deps.Orchestrator),
		Ingest:  api.NewIngestHandler(deps.Ingestor),
		Account: api.NewAccountHandler(deps.Ledger, deps.AccountSvc),
	}
	if deps.Billing != nil {
		handlers.Billing = api.NewBillingHandler(deps.Billing)
	}
	if deps.Aggregator != nil {
		handlers.Quote = api.NewQuoteHandler(deps.Aggregator)
	}
	api.SetupRouter(server, handlers, api.RouterConfig{
		PassHash: cfg.PassHash(),
		Version:  cfg.AppVersion,
		Env:      cfg.Env,
	})

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Println("Shutting down...")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	// Start Server
	log.Printf("Fineas Core running on port %s (ledger=%s, index=%s, generator=%s)",
		cfg.Port, cfg.LedgerBackend, cfg.VectorBackend, cfg.Generator)
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Printf("server stopped: %v", err)
	}
}
