package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/catalog"
	"github.com/talespin-gg/talespin-server/internal/v1/config"
	"github.com/talespin-gg/talespin-server/internal/v1/health"
	"github.com/talespin-gg/talespin-server/internal/v1/logging"
	"github.com/talespin-gg/talespin-server/internal/v1/middleware"
	"github.com/talespin-gg/talespin-server/internal/v1/ratelimit"
	"github.com/talespin-gg/talespin-server/internal/v1/transport"
)

func main() {
	// Load .env for local development; production relies on real env vars.
	if err := godotenv.Load(); err == nil {
		os.Stderr.WriteString("Loaded environment from .env\n")
	}

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("Invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	}

	// Building the catalog normalizes every card image into the on-disk
	// cache, so a cold start with many new images takes a while.
	cards, err := catalog.Load(ctx, cfg)
	if err != nil {
		logging.Fatal(ctx, "Failed to load card catalog", zap.Error(err))
	}
	logging.Info(ctx, "Card catalog ready", zap.Int("cards", cards.Size()))

	limiter, err := ratelimit.New(cfg.RateLimitAPI, cfg.RateLimitWS)
	if err != nil {
		logging.Fatal(ctx, "Failed to configure rate limiter", zap.Error(err))
	}

	hub := transport.NewHub(cards.Deck(), uint16(cfg.DefaultWinPoints))
	handler := transport.NewHandler(hub, cards, limiter)

	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	// Rooms are joined by code, not cookie, so any origin may call the API.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization", middleware.HeaderXCorrelationID}
	router.Use(cors.New(corsConfig))

	handler.RegisterRoutes(router, limiter.APIMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(cards, hub)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Background upkeep: idle-room collection and moderator promotion.
	upkeepCtx, stopUpkeep := context.WithCancel(ctx)
	go runTicker(upkeepCtx, transport.GCInterval, func() { hub.GC(upkeepCtx) })
	go runTicker(upkeepCtx, transport.MaintenanceInterval, hub.RunMaintenance)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Server failed", zap.Error(err))
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server")

	stopUpkeep()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "Server exiting")
}

func runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
