package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"invoicehub/internal/adapters/cli"
	"invoicehub/internal/app"
	"invoicehub/internal/config"
	"invoicehub/internal/logger"

	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open := func(ctx context.Context, migrate bool) (app.ApplicationService, func(), error) {
		cfg, err := config.Load("invoicehub-cli")
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		if err := logger.Init(cfg.Log.Level, cfg.Server.Env, cfg.ServiceName); err != nil {
			return nil, nil, fmt.Errorf("logger: %w", err)
		}
		log := logger.Get()
		rt, err := app.Open(ctx, cfg, migrate, log)
		if err != nil {
			return nil, nil, err
		}
		return app.NewAppService(rt.Services, log), func() {
			rt.Close()
			_ = log.Sync()
		}, nil
	}

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		logger.Get().Error("command failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
