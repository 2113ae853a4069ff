package telegram

import (
	"context"

	"go.uber.org/fx"

	"trade_engine/internal/engine"
	"trade_engine/internal/modules/telegram_bot/service"
	"trade_engine/internal/notify"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			service.NewTelegram,
		),
		// адаптер: *service.Telegram -> notify.Notifier для шедулера
		fx.Provide(
			func(t *service.Telegram) notify.Notifier {
				return t
			},
		),
		fx.Invoke(
			func(s *engine.Scheduler, n notify.Notifier) {
				s.SetNotifier(n)
			},
		),
		fx.Invoke(
			// цикл апдейтов живёт на appCtx: контекст OnStart-хука fx
			// умирает по StartTimeout и убил бы таймауты команд
			func(lc fx.Lifecycle, t *service.Telegram, appCtx context.Context) {
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						t.Start(appCtx)
						return nil
					},
					OnStop: func(ctx context.Context) error {
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
