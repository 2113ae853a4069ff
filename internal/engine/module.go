package engine

import (
	"context"

	"go.uber.org/fx"

	"trade_engine/internal/broker"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/router"
)

// NewBrokerRouter собирает адаптеры, на которые есть креды. Валидация конфига
// уже гарантировала, что хотя бы один брокер настроен.
func NewBrokerRouter(cfg *config.Config) *router.Router {
	var brokers []broker.Broker
	if cfg.HasAlpaca() {
		brokers = append(brokers, broker.NewAlpaca(broker.AlpacaConfig{
			BaseURL: cfg.AlpacaBaseURL,
			DataURL: cfg.AlpacaDataURL,
			KeyID:   cfg.AlpacaKeyID,
			Secret:  cfg.AlpacaSecret,
			Timeout: cfg.CallTimeout,
		}))
	}
	if cfg.HasOanda() {
		brokers = append(brokers, broker.NewOanda(broker.OandaConfig{
			BaseURL:   cfg.OandaBaseURL,
			Token:     cfg.OandaToken,
			AccountID: cfg.OandaAccount,
			Timeout:   cfg.CallTimeout,
		}))
	}
	return router.New(brokers...)
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			NewBrokerRouter, // *router.Router
			NewScheduler,    // *Scheduler
		),
		fx.Invoke(func(lc fx.Lifecycle, s *Scheduler, rt *router.Router, cfg *config.Config, appCtx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					// живые цены для status по крипто-символам
					for _, b := range rt.Brokers() {
						a, ok := b.(*broker.Alpaca)
						if !ok {
							continue
						}
						var crypto []string
						for _, sym := range cfg.Symbols {
							if a.InstrumentOk(sym) {
								crypto = append(crypto, sym)
							}
						}
						a.StreamTrades(appCtx, crypto)
					}

					s.Start(appCtx)
					return nil
				},
				OnStop: func(_ context.Context) error {
					s.Stop()
					return nil
				},
			})
		}),
	)
}
