package main

import (
	"context"
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

	"github.com/atmx/bean-exchange/internal/api"
	"github.com/atmx/bean-exchange/internal/clock"
	"github.com/atmx/bean-exchange/internal/config"
	"github.com/atmx/bean-exchange/internal/exchange"
	"github.com/atmx/bean-exchange/internal/feed"
	"github.com/atmx/bean-exchange/internal/metrics"
	"github.com/atmx/bean-exchange/internal/notify"
	"github.com/atmx/bean-exchange/internal/offers"
	"github.com/atmx/bean-exchange/internal/pricing"
	"github.com/atmx/bean-exchange/internal/scheduler"
	"github.com/atmx/bean-exchange/internal/store"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.Postgres.URL != "" {
		if cfg.Postgres.MigrateOnStart {
			if err := store.Migrate(cfg.Postgres.URL); err != nil {
				fatal("migration failed", err)
			}
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			fatal("database connection failed", err)
		}
		cleanup = append(cleanup, pool.Close)
		iso, _ := cfg.Postgres.IsoLevel()
		st = store.NewPostgresStore(pool, iso)
		slog.Info("connected to PostgreSQL", "isolation", string(iso))

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				fatal("invalid REDIS_URL", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL, cfg.Redis.CacheHold)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL, "hold", cfg.Redis.CacheHold)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	clk := clock.Real{}

	// --- Notifications ---
	sinks := notify.Fanout{notify.NewStoreSink(st, clk)}
	if cfg.Kafka.Enabled() {
		producer, err := notify.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			fatal("kafka producer failed", err)
		}
		cleanup = append(cleanup, func() {
			producer.Flush(5000)
			producer.Close()
		})
		sinks = append(sinks, notify.NewKafkaSink(producer, cfg.Kafka.NoticeTopic))
		slog.Info("Kafka notices enabled", "topic", cfg.Kafka.NoticeTopic)
	}
	sinks = append(sinks, notify.LogSink{})

	// --- WebSocket feed ---
	hub := feed.NewHub()
	go hub.Run(ctx)

	// --- Exchange services ---
	tiers, err := pricing.ParseTiers(cfg.Pricing.TierRange, cfg.Pricing.Tiers, cfg.Pricing.Multipliers)
	if err != nil {
		fatal("invalid price tiers", err)
	}
	minPrice, _ := cfg.Pricing.Minimum()
	sim := pricing.NewSimulator(st, clk, pricing.NewRand(cfg.Pricing.Seed), pricing.Config{
		Tiers:  tiers,
		Normal: pricing.Normal{Mu: cfg.Pricing.Mu, Sigma: cfg.Pricing.Sigma},
	}, hub)
	desk := exchange.NewDesk(st, clk, sinks, hub)
	book := offers.NewBook(st, clk, sinks, hub)

	// --- Background jobs ---
	sched, err := scheduler.New()
	if err != nil {
		fatal("scheduler init failed", err)
	}
	inception := func() time.Time {
		from, _ := cfg.Pricing.Inception(clk.Now())
		return from
	}
	if err := sched.NewCrontabJob(scheduler.PriceJobName, scheduler.PriceJob(sim, minPrice, inception), cfg.Jobs.PriceCron, true); err != nil {
		fatal("invalid PRICE_JOB_CRON", err)
	}
	if cfg.Jobs.InvariantInterval > 0 {
		if err := sched.NewIntervalJob(scheduler.InvariantJobName, scheduler.InvariantJob(st), cfg.Jobs.InvariantInterval, false); err != nil {
			fatal("invariant job init failed", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"bean-exchange"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(st, clk, desk, book, sim, minPrice)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for trades and price movements.
		r.Get("/ws", hub.HandleWS)

		// Everything else answers within 30s; the feed stays open.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			handler.Register(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("bean-exchange listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server error", err)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down bean-exchange...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("bean-exchange stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
