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
	"go.uber.org/zap"

	"promptlib/api/internal/app"
	"promptlib/api/internal/config"
	"promptlib/api/internal/counter"
	"promptlib/api/internal/gateway"
	"promptlib/api/internal/secretgate"
	"promptlib/api/internal/session"
	"promptlib/api/internal/store"
	"promptlib/api/internal/visitors"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return err
	}

	dataStore := store.NewPostgresStore(db)
	gate := secretgate.NewService()
	counters := counter.NewService(dataStore)
	mutations := gateway.NewService(dataStore, gate)

	// redis is optional: without it the admin and visitor surfaces report
	// themselves unavailable and everything else keeps working.
	var sessions app.SessionStore
	var visitorCounter app.VisitorCounter
	if cfg.RedisURL != "" {
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(options)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, admin sessions and visitor stats disabled", zap.Error(err))
		} else {
			sessions = session.NewRedisStoreWithClient(client)
			visitorCounter = visitors.NewCounter(client)
		}
	}

	service := app.New(cfg, dataStore, gate, counters, mutations, sessions, visitorCounter, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
