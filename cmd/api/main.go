package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	server "marketfeed/internal/adapters/http_server"
	"marketfeed/internal/adapters/market"
	"marketfeed/internal/adapters/observability"
	redisad "marketfeed/internal/adapters/redis"
	"marketfeed/internal/app"
	"marketfeed/internal/domain"
	"marketfeed/internal/shared"
	mysqlrepo "marketfeed/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	client, err := market.New(cfg.MarketBase, cfg.MarketKey, cfg.MarketRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize market client")
	}
	client.WithMaxAttempts(cfg.MarketMaxAttempts)

	// optional miss log
	var misses domain.MissLog
	if cfg.MySQLDSN != "" {
		db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("mysql open failed")
		}
		defer db.Close()
		log.Info().Msg("database connection ok")
		misses = mysqlrepo.New(db)
	}

	// optional response cache
	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable; serving without cache")
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	feed := app.NewFeedService(client, app.FeedOptions{
		APIBase:        client.Base(),
		PrimaryTimeout: cfg.PrimaryTimeout,
		MaxParallel:    cfg.MaxParallel,
		Misses:         misses,
	})
	q := app.NewQueryService(feed, cache, cfg.CacheTTL, misses)

	// http
	srv := server.New(cfg.RequestTimeout)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: q, DefaultLimit: cfg.DefaultLimit, MaxLimit: cfg.MaxLimit})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("market", cfg.MarketBase).
		Bool("cache", cache != nil).
		Bool("miss_log", misses != nil).
		Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}
