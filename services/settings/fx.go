package settings

import (
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("settings",
	fx.Provide(
		NewProvider,
		provideLocation,
	),
)

func provideLocation(p *Provider) *time.Location {
	return p.Location()
}
