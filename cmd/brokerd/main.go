package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"brokerd/internal/config"
	"brokerd/internal/database"
	"brokerd/internal/ledger"
	"brokerd/internal/logger"
	"brokerd/internal/quotes"
	"brokerd/internal/server"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.New(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Pick the quote source
	var provider quotes.Provider
	switch cfg.Quotes.Source {
	case "http":
		provider = quotes.NewClient(&cfg.Quotes, log)
		log.Info("Using HTTP quote provider", zap.String("base_url", cfg.Quotes.BaseURL))
	default:
		provider = quotes.NewStore(db)
		log.Info("Using database quote provider")
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize and run the server
	svc := ledger.New(db, provider, log)
	srv := server.New(cfg.Server, log, svc)
	if err := srv.Serve(ctx); err != nil {
		log.Fatal("Server failed", zap.Error(err))
	}

	log.Info("Server has been shut down.")
}
