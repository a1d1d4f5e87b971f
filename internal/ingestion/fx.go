package ingestion

import "go.uber.org/fx"

var Module = fx.Module("ingestion",
	fx.Provide(NewGateway),
)
