package strategy

import (
	"trade_engine/internal/modules/strategy/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			service.NewGenerator, // service.Generator
		),
	)
}
