package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kry4r/embedstore/internal/api"
	"github.com/kry4r/embedstore/internal/config"
	"github.com/kry4r/embedstore/internal/embedding"
	pgstore "github.com/kry4r/embedstore/internal/store"
	"github.com/kry4r/embedstore/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting embedstore...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/embedstore.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Connect PostgreSQL and apply migrations
	ctx := context.Background()
	store, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	if err := store.Migrate(ctx, "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Initialize embedding provider
	embCfg := embedding.Config{
		Endpoint: cfg.Embedding.Endpoint,
		APIKey:   cfg.Embedding.APIKey,
	}
	var embedder embedding.Provider
	switch cfg.Embedding.Provider {
	case "", "ollama":
		embedder = embedding.NewOllamaProvider(embCfg)
	case "api":
		embedder = embedding.NewAPIProvider(embCfg)
	default:
		logger.Fatal("unknown embedding provider", zap.String("provider", cfg.Embedding.Provider))
	}
	logger.Info("Embedding provider initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("endpoint", cfg.Embedding.Endpoint),
	)

	svc := vectorstore.New(store.Pool(), embedder, logger)
	handler := api.NewHandler(svc, embedder, logger)

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
		logger.Info("embedstore listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down embedstore...")
	srv.Shutdown(context.Background())
	store.Close()
}
