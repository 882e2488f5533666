package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	webAdapter "invoicehub/internal/adapters/web"
	"invoicehub/internal/app"
	"invoicehub/internal/config"
	"invoicehub/internal/logger"
	"invoicehub/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("invoicehub-server")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Server.Env, cfg.ServiceName); err != nil {
		log.Fatalf("logger: %v", err)
	}
	zl := logger.Get()
	defer func() { _ = zl.Sync() }()
	zl.Info("starting", cfg.LogFields()...)

	if cfg.Auth.SigningKey == "" {
		zl.Warn("AUTH_SIGNING_KEY is not set; every authenticated request will be rejected")
	}
	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, true, zl)
	if err != nil {
		zl.Fatal("startup", zap.Error(err))
	}
	defer rt.Close()
	services := rt.Services

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		services.Outbox.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := services.Synchronizer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zl.Error("synchronizer stopped", zap.Error(err))
		}
	}()

	svc := app.NewAppService(services, zl.Named("app"))
	handler := webAdapter.NewHandler(svc, webAdapter.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SigningKey:     cfg.Auth.SigningKey,
		Issuer:         cfg.Auth.Issuer,
		BodyLimit:      cfg.Server.BodyLimit,
	}, zl.Named("http"))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
	wg.Wait()
}
