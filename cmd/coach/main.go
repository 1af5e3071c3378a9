package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/avantifellows/curiosity-coach/internal/api"
	"github.com/avantifellows/curiosity-coach/internal/cache"
	"github.com/avantifellows/curiosity-coach/internal/config"
	"github.com/avantifellows/curiosity-coach/internal/pipeline"
	"github.com/avantifellows/curiosity-coach/internal/provider"
	"github.com/avantifellows/curiosity-coach/internal/store"
	"github.com/avantifellows/curiosity-coach/internal/visit"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Curiosity Coach...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/coach.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.Pipeline.ProviderRetries > 0 {
		router.SetRetries(cfg.Pipeline.ProviderRetries)
	}

	// Initialize PostgreSQL store
	pgStore, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	migrationsDir := cfg.Database.Postgres.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}
	if err := pgStore.Migrate(context.Background(), migrationsDir); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Initialize record cache (optional)
	var records *cache.RecordCache
	if cfg.Database.Redis.URL != "" {
		rc, cacheErr := cache.New(cfg.Database.Redis.URL, cfg.Database.Redis.CacheTTLDuration(), logger)
		if cacheErr != nil {
			logger.Warn("Redis unavailable, running without record cache", zap.Error(cacheErr))
		} else {
			records = rc
			logger.Info("Record cache initialized")
		}
	}

	// Wire the pipeline
	selector := visit.NewSelector(pgStore, logger)
	selector.SetMaxAttempts(cfg.Pipeline.VisitRetryCeiling)
	engine := pipeline.NewEngine(pgStore, records, selector, router, logger)
	engine.SetHistoryLimit(cfg.Pipeline.HistoryLimit)

	// Build HTTP handler
	handler := api.NewHandler(engine, pgStore, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Curiosity Coach listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Curiosity Coach...")
	srv.Shutdown(context.Background())
	if records != nil {
		records.Close()
	}
	pgStore.Close()
}
