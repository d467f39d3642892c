package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/auth"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/config"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/httpserver"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/ingest"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/logging"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/notify"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/settlement"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/store"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/whoop"
)

const shutdownGrace = 15 * time.Second

// main boots the service: config → logger → store → schema → collaborators → HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.WebhookSecret == "" {
		logger.Warn("no webhook secret configured, /webhook will reject every delivery")
	}

	client := whoop.NewClient(whoop.ClientOptions{
		BaseURL:      cfg.WhoopAPIHost,
		ClientID:     cfg.WhoopClientID,
		ClientSecret: cfg.WhoopClientSecret,
		Timeout:      cfg.WhoopHTTPTimeout,
	})
	tokens := whoop.NewTokenManager(st, client, logger)
	fetcher := whoop.NewSleepFetcher(st, client, tokens, logger)

	ledger := settlement.NewContractLedger(settlement.LedgerConfig{
		RPCURL:             cfg.Chain.RPCURL,
		ChainID:            cfg.Chain.ChainID,
		PrivateKey:         cfg.Chain.PrivateKey,
		SleepToEarnAddress: cfg.Chain.SleepToEarnAddress,
		SleepTokenAddress:  cfg.Chain.SleepTokenAddress,
		Timeout:            cfg.Chain.Timeout,
	}, logger)
	defer ledger.Close()

	var cache settlement.StatsCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		cache = settlement.NewRedisStatsCache(rdb, cfg.StatsCacheTTL, logger)
	}
	stats := settlement.NewStatsReader(ledger, cache, logger)

	var publisher notify.Publisher = notify.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaSleepSyncedTopic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close", zap.Error(err))
		}
	}()

	proc := ingest.NewProcessor(ingest.Options{
		Verifier:  auth.NewSignatureVerifier(cfg.WebhookSecret),
		Store:     st,
		Fetcher:   fetcher,
		Forwarder: settlement.NewForwarder(ledger, st, logger),
		Publisher: publisher,
		Logger:    logger,
	})

	router := httpserver.NewRouter(httpserver.Deps{
		Logger:         logger,
		Store:          st,
		Webhooks:       proc,
		Stats:          stats,
		Leaderboard:    settlement.NewLeaderboard(stats, st, logger),
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}

	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		return nil, err
	}
	// Ensure required tables/indexes exist so `docker compose up --build` is enough.
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
