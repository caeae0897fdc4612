package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/api"
	"github.com/serroba/smart-collab/internal/broker"
	"github.com/serroba/smart-collab/internal/config"
	"github.com/serroba/smart-collab/internal/logging"
	"github.com/serroba/smart-collab/internal/rooms"
	"github.com/serroba/smart-collab/internal/storage"
	"github.com/serroba/smart-collab/internal/ws"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger := logging.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := rooms.NewRegistry(rooms.Config{
		Permissions:   acl.NewMemoryStore(),
		TokenTTL:      cfg.TokenTTL,
		TokenCapacity: cfg.TokenCapacity,
		Logger:        logging.New(logger, "rooms"),
	})

	var b broker.Broker = broker.NewLocal()
	if cfg.RedisAddr != "" {
		b = broker.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), logging.New(logger, "broker"))
	}
	defer b.Close()

	server := api.NewServer(api.ServerConfig{
		Store:  store,
		Rooms:  registry,
		Hub:    ws.NewHub(),
		Broker: b,
		Logger: logging.New(logger, "api"),
	})

	if err := server.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":   cfg.Addr,
			"store":  cfg.DBDriver,
			"broker": brokerName(cfg),
		}).Info("Starting server")

		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		logger.Info("Shutting down")

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	if cfg.DBDriver == config.DriverMemory {
		return storage.NewMemoryStore(), func() {}, nil
	}

	store, err := storage.NewSQLStore(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}

	return store, func() { _ = store.Close() }, nil
}

func brokerName(cfg config.Config) string {
	if cfg.RedisAddr != "" {
		return "redis"
	}

	return "local"
}
