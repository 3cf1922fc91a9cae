package monitor

import "go.uber.org/fx"

var Module = fx.Module("monitor.service",
	fx.Provide(
		NewPublisher,
		NewService,
	),
	fx.Invoke(RunLoop),
)
