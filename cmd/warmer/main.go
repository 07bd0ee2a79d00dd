package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"marketfeed/internal/adapters/market"
	"marketfeed/internal/adapters/observability"
	redisad "marketfeed/internal/adapters/redis"
	"marketfeed/internal/app"
	"marketfeed/internal/domain"
	"marketfeed/internal/shared"
	mysqlrepo "marketfeed/internal/storage/mysql"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	observability.Serve(cfg.MetricsAddr, observability.InitRegistry())

	log.Info().
		Str("base", cfg.MarketBase).
		Int("workers", cfg.WarmWorkers).
		Int("sets", len(cfg.WarmTypeSets)).
		Msg("warmer starting")

	if cfg.RedisAddr == "" {
		log.Fatal().Msg("REDIS_ADDR is required to warm the feed cache")
	}
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}

	var misses domain.MissLog
	if cfg.MySQLDSN != "" {
		db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("mysql open failed")
		}
		defer db.Close()
		repo := mysqlrepo.New(db)
		if n, err := repo.PruneMisses(ctx, time.Now().Add(-cfg.MissRetention)); err != nil {
			log.Warn().Err(err).Msg("prune misses failed")
		} else {
			log.Info().Int64("pruned", n).Msg("old misses pruned")
		}
		misses = repo
	}

	client, err := market.New(cfg.MarketBase, cfg.MarketKey, cfg.MarketRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize market client")
	}
	client.WithMaxAttempts(cfg.MarketMaxAttempts)

	feed := app.NewFeedService(client, app.FeedOptions{
		APIBase:        client.Base(),
		PrimaryTimeout: cfg.PrimaryTimeout,
		MaxParallel:    cfg.MaxParallel,
		Misses:         misses,
	})
	q := app.NewQueryService(feed, cache, cfg.CacheTTL, misses)

	workers := cfg.WarmWorkers
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	for _, set := range cfg.WarmTypeSets {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func(types []string) {
			defer wg.Done()
			defer sem.Release(1)

			label := strings.Join(types, ",")
			if label == "" {
				label = "all"
			}
			page, err := q.Refresh(ctx, domain.FeedQuery{Types: types, Sort: domain.SortNewest, Limit: cfg.DefaultLimit})
			if err != nil {
				log.Warn().Str("types", label).Err(err).Msg("warm failed")
				return
			}
			log.Info().Str("types", label).Int("items", len(page.Items)).Bool("more", page.NextCursor != nil).Msg("warm ok")
		}(set)
	}

	wg.Wait()
	log.Info().Msg("warming completed")
}
