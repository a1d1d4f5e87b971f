package reading

import (
	"github.com/smallbiznis/netmetering/internal/reading/repository"
	"github.com/smallbiznis/netmetering/internal/reading/service"
	"github.com/smallbiznis/netmetering/internal/reading/validation"
	"go.uber.org/fx"
)

var Module = fx.Module("reading.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(validation.NewDecoder),
)
