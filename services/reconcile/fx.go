package reconcile

import "go.uber.org/fx"

var Module = fx.Module("reconcile.service",
	fx.Provide(
		NewService,
		NewHandler,
	),
)
