package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netmetering/internal/billing"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/config"
	"github.com/smallbiznis/netmetering/internal/events"
	"github.com/smallbiznis/netmetering/internal/observability"
	"github.com/smallbiznis/netmetering/internal/ratelimit"
	"github.com/smallbiznis/netmetering/internal/reading"
	"github.com/smallbiznis/netmetering/internal/scheduler"
	"github.com/smallbiznis/netmetering/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		ratelimit.Module,
		events.Module,
		reading.Module,
		billing.Module,

		// No server module!
		scheduler.Module,
		fx.Decorate(func(cfg scheduler.Config) scheduler.Config {
			cfg.Enabled = true
			return cfg
		}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
