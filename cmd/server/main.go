package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ormatch/internal/auth"
	matchconfig "ormatch/internal/match/config"
	"ormatch/internal/match/handler"
	"ormatch/internal/match/metrics"
	"ormatch/internal/match/service"
	"ormatch/internal/match/store"
	"ormatch/internal/platform/config"
	"ormatch/internal/platform/httpserver"
	"ormatch/internal/platform/logger"
	"ormatch/internal/platform/middleware"
)

// main wires dependencies and owns the server lifecycle. Business logic lives
// in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	matchCfg, err := matchconfig.Load(cfg.MatchRules)
	if err != nil {
		log.Error("failed to load match rules", "path", cfg.MatchRules, "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	registry := store.NewPostgres(db, matchCfg, store.WithSQLTrace(log))
	svc, err := service.New(matchCfg, registry, newPostgresTx(db, cfg.TxTimeout), log,
		service.WithMetrics(m))
	if err != nil {
		log.Error("failed to build match service", "error", err)
		os.Exit(1)
	}

	var authOpts []auth.AuthorizerOption
	if cfg.JWTSigningKey != "" {
		authOpts = append(authOpts, auth.WithTokenValidator(auth.NewTokenValidator(cfg.JWTSigningKey)))
	}
	if cfg.AuthDisabled {
		log.Warn("authorization is disabled")
		authOpts = append(authOpts, auth.Disabled())
	}
	authorizer := auth.NewAuthorizer(auth.NewPostgresStore(db), log, authOpts...)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Timeout(30 * time.Second))

	handler.New(svc, authorizer, log).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
