package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"chacara_booking/internal/adapters/checkout"
	"chacara_booking/internal/adapters/observability"
	redisad "chacara_booking/internal/adapters/redis"
	"chacara_booking/internal/app"
	"chacara_booking/internal/shared"
	mysqlrepo "chacara_booking/internal/storage/mysql"
)

func main() {
	every := flag.Duration("every", 0, "repeat the pass at this interval; 0 runs once and exits")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	log.Info().
		Str("gateway", cfg.CheckoutBase).
		Int("workers", cfg.ReconcileWorkers).
		Dur("every", *every).
		Msg("reconciler starting")

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	gateway, err := checkout.New(cfg.CheckoutBase, cfg.CheckoutKey, cfg.CheckoutRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize checkout client")
	}

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()

	// status changes go through the reservation service so the calendar cache is invalidated
	catalog := app.NewCatalogService(repo, cache, cfg.CacheTTL, cfg.Location())
	reservations := app.NewReservationService(repo, catalog, gateway, cache, app.ReservationOptions{
		PendingTTL: cfg.PendingTTL,
		SuccessURL: cfg.CheckoutSuccessURL,
	})
	rec := app.NewReconcileService(repo, gateway, reservations, cfg.ReconcileWorkers)

	pass := func() {
		start := time.Now()
		rep, err := rec.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("reconcile pass failed")
			return
		}
		log.Info().
			Int("checked", rep.Checked).
			Int("confirmed", rep.Confirmed).
			Int("cancelled", rep.Cancelled).
			Int("finished", rep.Finished).
			Int("failed", rep.Failed).
			Dur("took", time.Since(start)).
			Msg("reconcile pass completed")
	}

	pass()
	if *every <= 0 {
		return
	}

	t := time.NewTicker(*every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciler stopped")
			return
		case <-t.C:
			pass()
		}
	}
}
