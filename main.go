package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/xhe623/planrun/internal/bus"
	"github.com/xhe623/planrun/internal/checkpoint"
	"github.com/xhe623/planrun/internal/config"
	"github.com/xhe623/planrun/internal/coordinator"
	"github.com/xhe623/planrun/internal/generator"
	"github.com/xhe623/planrun/internal/policy"
	transport "github.com/xhe623/planrun/internal/transport/http"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting run service...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Generator provider: %s", cfg.GeneratorProvider)

	// Initialize checkpoint store
	store, err := checkpoint.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize checkpoint store: %v", err)
	}
	defer store.Close()

	// Initialize generator
	gen, err := generator.New(cfg.GeneratorProvider, cfg.GeneratorBaseURL, cfg.GeneratorAPIKey, cfg.GeneratorModel, cfg.GeneratorTimeout)
	if err != nil {
		log.Fatalf("Failed to initialize generator: %v", err)
	}

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize event bus and coordinator
	eventBus := bus.New(cfg.BusBuffer)
	coord := coordinator.New(store, eventBus, gen, policyEngine, cfg.GeneratorTimeout)

	// Create HTTP server
	server := transport.NewServer(coord, cfg.KeepAliveInterval)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down run service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests first, then pause active runs so every
	// interrupted run leaves a resumable checkpoint.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to pause active runs gracefully: %v", err)
	}

	log.Println("Run service stopped")
}
