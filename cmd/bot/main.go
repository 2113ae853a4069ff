package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_engine/internal/commands"
	"trade_engine/internal/engine"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/health"
	"trade_engine/internal/modules/strategy"
	telegram "trade_engine/internal/modules/telegram_bot"
	"trade_engine/internal/modules/webhook"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/tracing"
)

const serviceName = "trade_engine"

func main() {
	logger.SetServiceName(serviceName)
	l, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	logger.Init(l)

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		strategy.Module(),
		engine.Module(),
		commands.Module(),
		health.Module(),
		webhook.Module(),
		telegram.Module(),
		fx.Invoke(initTracing),
	)
	app.Run()
}

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	tracing.SetServiceName(serviceName)
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.JaegerHost,
		Port: cfg.JaegerPort,
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeTracer()
			return nil
		},
	})
	return nil
}
