package device

import (
	"github.com/smallbiznis/netmetering/internal/device/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("device.registry",
	fx.Provide(registry.Provide),
)
