package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"papertrade/internal/api"
	"papertrade/internal/config"
	"papertrade/internal/db"
	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/metrics"
	"papertrade/internal/realtime"
	"papertrade/internal/service"
	"papertrade/internal/store"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server_failed", "err", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	metrics.Init()

	st, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	provider := market.NewProvider(market.Options{
		BaseURL:           cfg.CoinGecko.BaseURL,
		PerPage:           cfg.CoinGecko.PerPage,
		RequestsPerMinute: cfg.CoinGecko.RequestsPerMinute,
		Timeout:           cfg.CoinGecko.Timeout,
	}, log.Named("market"))
	hub := realtime.NewHub()

	ls := service.New(st, provider, hub, log.Named("ledger"), service.Config{
		Key:           cfg.Ledger.Key,
		StrictPersist: cfg.Ledger.StrictPersist,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := ls.Load(ctx); err != nil {
		log.Warnw("ledger_load_failed", "err", err, "fallback", "empty ledger")
	}

	apiServer := api.NewServer(ls, provider, hub, log.Named("api"), api.Options{
		StaticDir:   cfg.HTTP.StaticDir,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go apiServer.StartPolling(ctx, cfg.HTTP.RefreshInterval)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorw("shutdown_failed", "err", err)
		}
	}()

	log.Infow("server_listening",
		"addr", cfg.HTTP.Addr,
		"env", cfg.App.Env,
		"storage", cfg.Storage.Driver,
		"refresh_interval", cfg.HTTP.RefreshInterval.String(),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("server_stopped")
	return nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return store.NewRedisStore(client, cfg.RedisPrefix), nil
	default:
		sqlDB, err := db.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		return store.NewSQLiteStore(sqlDB), nil
	}
}
