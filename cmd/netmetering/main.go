package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netmetering/internal/billing"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/config"
	"github.com/smallbiznis/netmetering/internal/dashboard"
	"github.com/smallbiznis/netmetering/internal/device"
	"github.com/smallbiznis/netmetering/internal/events"
	"github.com/smallbiznis/netmetering/internal/ingestion"
	"github.com/smallbiznis/netmetering/internal/migration"
	"github.com/smallbiznis/netmetering/internal/observability"
	"github.com/smallbiznis/netmetering/internal/ratelimit"
	"github.com/smallbiznis/netmetering/internal/reading"
	"github.com/smallbiznis/netmetering/internal/scheduler"
	"github.com/smallbiznis/netmetering/internal/server"
	"github.com/smallbiznis/netmetering/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Functional Domains
		device.Module,
		ratelimit.Module,
		events.Module,
		reading.Module,
		billing.Module,
		dashboard.Module,
		ingestion.Module,

		server.Module,
		// Runs only when BILLING_SCHEDULER_ENABLED is set.
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
