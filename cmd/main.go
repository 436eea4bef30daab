package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"storefront/internal/cache"
	"storefront/internal/config"
	httpapi "storefront/internal/http"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/publisher"
	"storefront/internal/repository"
	"storefront/internal/service"
)

func main() {
	app := &cli.App{
		Name:   "storefront",
		Usage:  "carts, checkout and payments API",
		Flags:  config.Flags(),
		Action: serve,
		Commands: []*cli.Command{
			{Name: "serve", Usage: "run the HTTP API and the outbox publisher", Action: serve},
			{Name: "migrate", Usage: "apply database migrations and exit", Action: migrate},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config) (*repository.Store, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		return repository.OpenPostgres(ctx, cfg.Postgres)
	case config.StorageSQLite:
		return repository.OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return repository.NewMemory(), nil
	}
}

func openCache(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.CartCache, func() error, error) {
	if cfg.RedisAddr == "" {
		log.Info("cart cache disabled")
		return cache.NopCache{}, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return cache.NewRedisCache(client, cfg.CartCacheTTL), client.Close, nil
}

func migrate(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if cfg.Storage == config.StorageMemory {
		log.Info("memory storage, nothing to migrate")
		return nil
	}
	// opening a SQL store applies pending migrations
	store, err := openStore(c.Context, cfg)
	if err != nil {
		return err
	}
	log.Info("migrations applied", "storage", cfg.Storage)
	return store.Close()
}

func serve(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cartCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	m := metrics.New()
	svc := service.New(service.Deps{
		Store:           store,
		Cache:           cartCache,
		Log:             log,
		Metrics:         m,
		Topics:          service.Topics{Orders: cfg.OrdersTopic(), Payments: cfg.PaymentsTopic()},
		DefaultCurrency: cfg.DefaultCurrency,
	})

	writer := publisher.NewWriter(cfg.KafkaBrokers, log)
	defer writer.Close()
	poller := publisher.NewOutboxPoller(store.Outbox, writer, log,
		publisher.WithInterval(cfg.OutboxInterval),
		publisher.WithBatchSize(cfg.OutboxBatch),
		publisher.WithCounter(m),
	)
	pollCtx, cancelPoll := context.WithCancel(context.Background())
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		poller.Run(pollCtx)
	}()

	srv := httpapi.NewServer(svc, httpapi.Options{Log: log, Metrics: m, RequestTimeout: cfg.RequestTimeout})
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Engine(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", httpServer.Addr, "storage", cfg.Storage)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		log.Error("shutdown error", "error", serr)
	}
	// stop publishing only after the last request finished
	cancelPoll()
	<-pollDone
	return err
}
