package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/simutrade/practice-engine/internal/config"
	"github.com/simutrade/practice-engine/internal/feedback"
	"github.com/simutrade/practice-engine/internal/metrics"
	"github.com/simutrade/practice-engine/internal/model"
	"github.com/simutrade/practice-engine/internal/scenario"
	"github.com/simutrade/practice-engine/internal/session"
	"github.com/simutrade/practice-engine/internal/sim"
	"github.com/simutrade/practice-engine/internal/store"
	"github.com/simutrade/practice-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := cfg.Storage.DatabaseURL; dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := cfg.Storage.RedisURL; redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL())
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("no database configured, using in-memory store (sessions will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price simulator ---
	specs := make([]sim.SymbolSpec, 0, len(cfg.Market.Symbols))
	for _, s := range cfg.Market.Symbols {
		specs = append(specs, sim.SymbolSpec{
			Symbol:    s.Symbol,
			BasePrice: decimal.NewFromFloat(s.BasePrice),
		})
	}
	simulator, err := sim.New(specs, sim.WithInterval(cfg.Market.TickInterval()))
	if err != nil {
		slog.Error("simulator init failed", "err", err)
		os.Exit(1)
	}

	// --- Scenario engine + catalog ---
	scenarioEngine := scenario.NewEngine(simulator, time.Now)

	catalog := scenario.DefaultCatalog()
	if path := cfg.Market.ScenarioFile; path != "" {
		catalog, err = scenario.LoadCatalog(path)
		if err != nil {
			slog.Error("scenario catalog load failed", "path", path, "err", err)
			os.Exit(1)
		}
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	unsubscribe := simulator.Subscribe(func(state *model.MarketState) {
		metrics.Ticks.Inc()
		wsHub.Broadcast(trade.WSMessage{Type: "tick", Data: state})
	})
	defer unsubscribe()

	// --- Feedback ---
	remote := feedback.NewRemoteAdapter(feedback.RemoteConfig{
		BaseURL: cfg.Feedback.BaseURL,
		APIKey:  cfg.Feedback.APIKey,
		Model:   cfg.Feedback.Model,
		Timeout: cfg.Feedback.Timeout(),
	})
	if remote == nil {
		slog.Info("remote feedback not configured, local fallback only")
	}
	feedbackSvc := feedback.NewService(remote, func(fb *model.Feedback) {
		if fb.Source == "fallback" {
			metrics.FeedbackFallbacks.Inc()
		}
		wsHub.Broadcast(trade.WSMessage{Type: "feedback", Data: fb})
	})

	// --- Sessions + trade service ---
	sessions := session.NewManager(st, decimal.NewFromFloat(cfg.Session.StartingBalance))
	tradeSvc := trade.NewService(simulator, sessions, scenarioEngine, catalog, feedbackSvc, wsHub)

	// --- Tick loop ---
	tickCtx, stopTicks := context.WithCancel(context.Background())
	defer stopTicks()
	go simulator.Run(tickCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"practice-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", tradeSvc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("practice-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down practice-engine...")
	stopTicks()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("practice-engine stopped")
}
