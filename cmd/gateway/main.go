package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keywheel/keywheel/internal/gateway/admission"
	"github.com/keywheel/keywheel/internal/gateway/cache"
	"github.com/keywheel/keywheel/internal/gateway/handlers"
	"github.com/keywheel/keywheel/internal/gateway/providers"
	"github.com/keywheel/keywheel/internal/gateway/retention"
	"github.com/keywheel/keywheel/internal/shared/config"
	"github.com/keywheel/keywheel/internal/shared/database"
	"github.com/keywheel/keywheel/internal/shared/metrics"
	"github.com/keywheel/keywheel/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting Keywheel on port %s (env: %s)", cfg.Port, cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build the key registry from the config file
	var specs []admission.KeySpec
	for _, pk := range cfg.ProviderKeys {
		for _, secret := range pk.Keys {
			specs = append(specs, admission.KeySpec{
				Provider: pk.Provider,
				Secret:   secret,
				Caps: admission.Caps{
					MaxRequestDay: pk.MaxRequestDay,
					MaxTokenMin:   pk.MaxTokenMin,
					MaxRequestMin: pk.MaxRequestMin,
				},
			})
		}
	}

	registry, err := admission.NewRegistry(specs)
	if err != nil {
		log.Fatalf("Invalid provider keys: %v", err)
	}
	log.Printf("✓ Loaded %d API keys across %d providers", len(specs), len(registry.ProviderNames()))

	providerMgr, err := providers.NewManager(registry.ProviderNames())
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}
	log.Println("✓ Initialized providers")

	selector := admission.NewSelector(registry, cfg.UsageGapPercentage)
	resolver := admission.NewResolver(cfg.AutoModels, selector, providerMgr.LookupProvider)

	// Postgres is optional; without it request logging is disabled.
	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		log.Println("✓ Connected to PostgreSQL")
	} else {
		log.Println("- Request logging disabled (DATABASE_URL not set)")
	}

	// Redis is optional; without it responses are never cached.
	var cacheService *cache.Cache
	if cfg.RedisURL != "" && cfg.CacheEnabled {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		cacheService = cache.New(redisClient, time.Duration(cfg.CacheTTLSeconds)*time.Second)
		log.Println("✓ Connected to Redis")
	} else {
		log.Println("- Response cache disabled")
	}

	m := metrics.New()

	if db != nil {
		sched, err := retention.New(db, cfg.RetentionSchedule, cfg.RetentionDays)
		if err != nil {
			log.Fatalf("Failed to set up retention: %v", err)
		}
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("Failed to start retention: %v", err)
		}
		log.Printf("✓ Retention scheduler started (%s, keep %d days)", cfg.RetentionSchedule, cfg.RetentionDays)
	}

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(providerMgr, registry, selector, resolver, cacheService, db, m)
	modelsHandler := handlers.NewModelsHandler(providerMgr, resolver)
	usageHandler := handlers.NewUsageHandler(registry)
	middleware := handlers.NewMiddleware(cfg.AccessKey, m)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORSMiddleware)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes (with auth)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequestIDMiddleware)
		r.Use(middleware.MetricsMiddleware)

		r.Post("/chat/completions", chatHandler.HandleChatCompletion)
		r.Get("/models", modelsHandler.HandleListModels)
		r.Get("/usage", usageHandler.HandleUsage)
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST /v1/chat/completions - Chat completions (OpenAI-compatible)")
		log.Println("   GET  /v1/models           - Available models")
		log.Println("   GET  /v1/usage            - Per-key usage report")
		log.Println("   GET  /metrics             - Prometheus metrics")
		log.Println("   GET  /health              - Health check")
		log.Println("")
		log.Println("Ready to accept requests!")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Stops the retention scheduler alongside the server.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
