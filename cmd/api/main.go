package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deal-scraper/config"
	"deal-scraper/extractor"
	"deal-scraper/internal/api"
	"deal-scraper/internal/app"
	"deal-scraper/internal/types"
	"deal-scraper/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	logger := app.NewLogger(false)
	gin.SetMode(gin.ReleaseMode)

	serverPort := envOr("API_PORT", "8080")
	sitesDir := envOr("SITES_DIR", "sites")

	proxy, err := config.LoadProxy(envOr("PROXY_CONFIG", "proxy_config.json"))
	if err != nil {
		logger.Fatalf("Invalid proxy configuration: %v", err)
	}

	metrics := extractor.NewMetrics()
	opts := app.Options{
		OutputDir:  os.Getenv("OUTPUT_DIR"),
		UseBrowser: os.Getenv("HTTP_ONLY") == "",
		Headless:   true,
		Proxy:      proxy,
		Metrics:    metrics,
	}

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		sink, err := storage.NewMongoSink(context.Background(), uri, envOr("MONGO_DB", "deal_scraper"), logger)
		if err != nil {
			logger.Warnf("Mongo disabled: %v", err)
		} else {
			defer sink.Close(context.Background())
			opts.Sink = sink
		}
	}

	run := func(ctx context.Context, site *config.SiteConfig) (*types.RunResult, error) {
		outcome, err := app.RunSite(ctx, site, opts, logger)
		if outcome == nil {
			return nil, err
		}
		return outcome.Result, err
	}

	server, err := api.NewServer(sitesDir, opts.OutputDir, run, metrics, logger)
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}

	httpServer := &http.Server{
		Addr:    ":" + serverPort,
		Handler: server.Router(),
	}

	go func() {
		logger.Infof("Starting API server on port %s", serverPort)
		logger.Info("Available endpoints:")
		logger.Info("  GET  /sites          - List configured sites")
		logger.Info("  POST /scrape         - Start a run for one site")
		logger.Info("  GET  /results/:site  - Latest records for a site")
		logger.Info("  GET  /metrics        - Prometheus metrics")
		logger.Info("  GET  /healthz        - Health check")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("API server failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Shutdown: %v", err)
	}
	server.Close()
}
