package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/uvote/uvote-backend/internal/api"
	"github.com/uvote/uvote-backend/internal/config"
	"github.com/uvote/uvote-backend/internal/engine"
	"github.com/uvote/uvote-backend/internal/ledger"
	ledgermem "github.com/uvote/uvote-backend/internal/ledger/memory"
	ledgerpg "github.com/uvote/uvote-backend/internal/ledger/postgres"
	"github.com/uvote/uvote-backend/internal/log"
	"github.com/uvote/uvote-backend/internal/metrics"
	"github.com/uvote/uvote-backend/internal/repository"
	"github.com/uvote/uvote-backend/internal/store"
	"github.com/uvote/uvote-backend/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting uvote settlement API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"version", "v1.0.0",
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("uvote-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Initialize market store and token ledger. In-memory mode keeps
	// everything in process for local development; nothing survives a
	// restart.
	var (
		marketStore engine.Store
		tokenLedger ledger.Ledger
	)
	if cfg.Database.UseInMemory {
		marketStore = repository.NewMemory()
		tokenLedger = ledgermem.NewLedger()
		logger.Infow("Using in-memory store and ledger")
	} else {
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			logger.Fatalw("Failed to open database", "error", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalw("Database ping failed", "error", err)
		}
		marketStore = repository.NewPostgres(db, logger)
		tokenLedger = ledgerpg.NewLedger(db)
		logger.Infow("Database connection established")
	}

	// Setup Redis cache (falls back to in-process memory when unreachable)
	cache := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	defer cache.Close()

	// Setup WebSocket hub
	hub := ws.NewHub(cfg.Security.CORSAllowedOrigins, logger, metricsObj)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Settlement engine
	eng := engine.New(marketStore, tokenLedger, engine.Settings{
		ReportThreshold: cfg.Engine.ReportThreshold,
		Cooldown:        cfg.Engine.Cooldown,
		AssetDecimals:   cfg.Engine.AssetDecimals,
		AdminAddress:    cfg.Engine.AdminAddress,
	}, logger, engine.WithRecorder(metricsObj), engine.WithEvents(hub))

	// Setup API handler and middleware
	handler := api.NewHandler(eng, cache, hub, cfg.Cache.MarketTTL, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	// Setup HTTP server
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
