package webhook

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/webhook/service"
	"trade_engine/pkg/logger"
)

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, wh *service.Webhook) {
	srv := &http.Server{
		Addr:              cfg.WebhookAddr,
		Handler:           wh.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.WebhookAddr)
			if err != nil {
				return err
			}
			logger.Info("webhook listening on %s", cfg.WebhookAddr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("webhook",
		fx.Provide(service.NewWebhook),
		fx.Invoke(RunHTTP),
	)
}
