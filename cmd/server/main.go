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

	"github.com/qfround/matching-engine/internal/metrics"
	"github.com/qfround/matching-engine/internal/model"
	"github.com/qfround/matching-engine/internal/round"
	"github.com/qfround/matching-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cacheTTL := 30 * time.Second
	if v := os.Getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid CACHE_TTL", "value", v, "err", err)
			os.Exit(1)
		}
		cacheTTL = ttl
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case os.Getenv("DATABASE_URL") != "":
		pool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case os.Getenv("SQLITE_PATH") != "":
		path := os.Getenv("SQLITE_PATH")
		lite, err := store.OpenSQLiteStore(path)
		if err != nil {
			slog.Error("sqlite open failed", "path", path, "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { lite.Close() })
		st = lite
		slog.Info("using SQLite store", "path", path)

	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Redis read-through cache in front of whichever store was chosen.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("redis unreachable", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cacheTTL)
		slog.Info("Redis cache enabled", "ttl", cacheTTL.String())
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if rounds, err := st.ListRounds(ctx); err == nil {
		open := 0
		for _, rd := range rounds {
			if rd.Status == model.StatusOpen {
				open++
			}
		}
		metrics.OpenRounds.Set(float64(open))
	}

	// --- WebSocket hub ---
	wsHub := round.NewWSHub()
	go wsHub.Run(ctx)

	roundSvc := round.NewService(st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		fmt.Fprintf(w, `{"status":"ok","service":"matching-engine","ws_clients":%d}`, wsHub.Len())
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", wsHub.HandleWS)

		r.Get("/rounds", roundSvc.ListRounds)
		r.Post("/rounds", roundSvc.CreateRound)
		r.Get("/rounds/{roundID}", roundSvc.GetRound)

		// Votes and live matching.
		r.Get("/rounds/{roundID}/votes", roundSvc.ListVotes)
		r.Post("/rounds/{roundID}/votes", roundSvc.AddVote)
		r.Get("/rounds/{roundID}/matching", roundSvc.GetMatching)
		r.Get("/rounds/{roundID}/estimate", roundSvc.Estimate)
		r.Post("/rounds/{roundID}/estimates", roundSvc.BatchEstimates)

		// Payout.
		r.Post("/rounds/{roundID}/finalize", roundSvc.Finalize)
		r.Get("/rounds/{roundID}/distribution", roundSvc.GetDistribution)
		r.Get("/rounds/{roundID}/distribution/{recipient}/proof", roundSvc.GetProof)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("matching-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down matching-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("matching-engine stopped")
}
