package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"chacara_booking/internal/adapters/checkout"
	server "chacara_booking/internal/adapters/http_server"
	"chacara_booking/internal/adapters/observability"
	redisad "chacara_booking/internal/adapters/redis"
	"chacara_booking/internal/app"
	"chacara_booking/internal/shared"
	mysqlrepo "chacara_booking/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	cfg.WarnMissingSecrets()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, serving without cache")
	}

	gateway, err := checkout.New(cfg.CheckoutBase, cfg.CheckoutKey, cfg.CheckoutRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize checkout client")
	}

	// deps
	repo := mysqlrepo.New(db)
	catalog := app.NewCatalogService(repo, cache, cfg.CacheTTL, cfg.Location())
	reservations := app.NewReservationService(repo, catalog, gateway, cache, app.ReservationOptions{
		PendingTTL: cfg.PendingTTL,
		SuccessURL: cfg.CheckoutSuccessURL,
	})
	admin := app.NewAdminService(repo, repo, catalog)

	// http
	srv := server.New(0)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Catalog:      catalog,
		Reservations: reservations,
		Admin:        admin,
		AdminKey:     cfg.AdminKey,
		WebhookToken: cfg.WebhookToken,
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
