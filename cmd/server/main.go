package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lapakku/backend/internal/cache"
	"lapakku/backend/internal/config"
	"lapakku/backend/internal/connectivity"
	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/httpapi"
	"lapakku/backend/internal/ledger"
	"lapakku/backend/internal/logger"
	"lapakku/backend/internal/report"
	"lapakku/backend/internal/store"
	"lapakku/backend/internal/store/memory"
	pgstore "lapakku/backend/internal/store/postgres"
	sqlitestore "lapakku/backend/internal/store/sqlite"
	appsync "lapakku/backend/internal/sync"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		panic("logger init: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	if cfg.Environment == "production" && len(cfg.AuthSecret) < 32 {
		log.Fatal("AUTH_SECRET must be set and at least 32 characters in production")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with a fallback store", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	case cfg.SQLitePath != "":
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatal("sqlite open failed", zap.String("path", cfg.SQLitePath), zap.Error(err))
		}
		repo = db
		closers = append(closers, db.Close)
		log.Info("repository: sqlite", zap.String("path", cfg.SQLitePath))
	default:
		repo = memory.NewSeeded()
		log.Info("repository: in-memory (seeded)")
	}

	if err := seedOwner(ctx, repo, log); err != nil {
		log.Fatal("owner account setup failed", zap.Error(err))
	}

	summaryCache := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			summaryCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	led := ledger.New(repo, log.Named("ledger"))
	if err := led.Init(ctx); err != nil {
		log.Fatal("ledger init failed", zap.Error(err))
	}

	remote := appsync.NewClient(cfg.RemoteBaseURL, appsync.StaticToken(cfg.RemoteToken))
	monitor := connectivity.New(remote.HealthURL(), cfg.ProbeInterval, log.Named("connectivity"))

	engine, err := appsync.New(ctx, repo, led, remote, monitor, appsync.Config{
		Interval:   cfg.SyncInterval,
		BatchLimit: cfg.SyncBatchSize,
		BackoffMin: cfg.BackoffMin,
		BackoffMax: cfg.BackoffMax,
	}, log.Named("sync"))
	if err != nil {
		log.Fatal("sync engine init failed", zap.Error(err))
	}
	if cfg.RemoteBaseURL == "" {
		engine.Pause()
		log.Warn("REMOTE_BASE_URL not set, sync paused; records queue locally")
	}

	runCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go monitor.Run(runCtx)
	go engine.Run(runCtx, monitor.Subscribe())

	reporter := report.New(repo, summaryCache, time.Duration(cfg.SummaryTTLSeconds)*time.Second, log.Named("report"))
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(led, engine, monitor, reporter, auth, cfg.AllowedOrigin, log.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopBackground()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

// seedOwner makes sure the owner login exists. The in-memory store seeds
// one itself; the SQL stores start empty.
func seedOwner(ctx context.Context, repo store.Repository, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	_, err := repo.GetUserByUsername(ctx, "owner")
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	password := os.Getenv("SEED_OWNER_PASSWORD")
	if password == "" {
		password = "owner123"
		log.Warn("SEED_OWNER_PASSWORD not set, seeding owner with the default dev password")
	}
	hash, err := httpapi.HashPassword(password)
	if err != nil {
		return err
	}
	return repo.CreateUser(ctx, domain.UserAccount{
		Username:  "owner",
		Password:  hash,
		Role:      "owner",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}
