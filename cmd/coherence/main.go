// Coherence orchestrator server - expands or reconstructs long-form text
// from a source document via chunked LLM calls, serving an HTTP/WS API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/longformai/coherence/pkg/api"
	"github.com/longformai/coherence/pkg/audit"
	"github.com/longformai/coherence/pkg/cleanup"
	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/expansion"
	"github.com/longformai/coherence/pkg/job"
	"github.com/longformai/coherence/pkg/llm"
	"github.com/longformai/coherence/pkg/store"
	"github.com/longformai/coherence/pkg/stream"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting coherence")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := store.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := store.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("✓ Connected to PostgreSQL database")

	llmClient := llm.NewHTTPClient(cfg.LLM)
	hub := stream.NewHub(cfg.Stream)

	pool := job.NewWorkerPool(dbClient, llmClient, cfg, hub)
	pool.Controller().UseAuditLogger(audit.New(dbClient, hub))
	pool.Start(ctx)
	defer pool.Stop()
	log.Println("✓ Worker pool started")

	sweeper := cleanup.NewSweeper(cfg.Retention, dbClient)
	sweeper.Start(ctx)
	defer sweeper.Stop()
	log.Println("✓ Retention sweeper started")

	expansionEngine := expansion.NewEngine(dbClient, llmClient, cfg, hub)

	server := api.NewServer(cfg, dbClient, pool.Controller(), expansionEngine, pool, hub)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP server: %v", err)
		}
	}()

	log.Printf("HTTP server listening on :%s", httpPort)
	log.Printf("Health check available at: http://localhost:%s/health", httpPort)
	if err := server.Start(":" + httpPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
