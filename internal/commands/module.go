package commands

import "go.uber.org/fx"

func Module() fx.Option {
	return fx.Module("commands",
		fx.Provide(NewDispatcher),
	)
}
