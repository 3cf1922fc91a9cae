package sweep

import "go.uber.org/fx"

var Module = fx.Module("sweep.service",
	fx.Provide(
		NewService,
		NewHandler,
	),
)
