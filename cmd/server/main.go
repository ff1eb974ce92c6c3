package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/broker"
	"github.com/quickserve-pos/api/internal/config"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/logging"
	"github.com/quickserve-pos/api/internal/router"
	"github.com/quickserve-pos/api/internal/service"
	"github.com/quickserve-pos/api/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logrus.WithError(err).Fatal("run migrations")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("connect to database")
	}
	defer pool.Close()

	store := database.New(pool)

	hub := ws.NewHub()
	go hub.Run()

	// With Redis configured, events flow through pub/sub so that every
	// gateway process sees every room event; otherwise the in-process
	// hub is the whole bus.
	var events ws.Publisher = hub
	if cfg.RedisURL != "" {
		bridge, err := broker.New(cfg.RedisURL, hub)
		if err != nil {
			logrus.WithError(err).Fatal("connect to redis")
		}
		defer bridge.Close()
		go bridge.Run(ctx)
		events = bridge
		logrus.Info("broadcast bridge: redis")
	} else {
		logrus.Info("broadcast bridge: in-process")
	}

	payments := service.NewGatewayProcessor(cfg.PaymentGatewayURL, cfg.PaymentTimeout)

	r := router.New(cfg, store, pool, hub, events, payments)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		logrus.Infof("listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("graceful shutdown")
	}
}
