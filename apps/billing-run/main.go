package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netmetering/internal/billing"
	billingdomain "github.com/smallbiznis/netmetering/internal/billing/domain"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/config"
	"github.com/smallbiznis/netmetering/internal/events"
	"github.com/smallbiznis/netmetering/internal/observability"
	"github.com/smallbiznis/netmetering/internal/ratelimit"
	"github.com/smallbiznis/netmetering/internal/reading"
	"github.com/smallbiznis/netmetering/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// billing-run bills one period and exits. It double-bills a period that was already run.
func main() {
	req, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var (
		svc billingdomain.Service
		log *zap.Logger
	)
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		ratelimit.Module,
		events.Module,
		reading.Module,
		billing.Module,

		fx.Populate(&svc, &log),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	code := run(context.Background(), svc, log, req)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		log.Warn("shutdown failed", zap.Error(err))
	}
	os.Exit(code)
}

func run(ctx context.Context, svc billingdomain.Service, log *zap.Logger, req billingdomain.GenerateRequest) int {
	pairs, err := svc.GenerateMonthlyBills(ctx, req)
	if err != nil {
		log.Error("billing run failed",
			zap.Int("month", req.Month),
			zap.Int("year", req.Year),
			zap.Int("created", len(pairs)),
			zap.Error(err),
		)
		return 1
	}
	log.Info("billing run complete",
		zap.Int("month", req.Month),
		zap.Int("year", req.Year),
		zap.Int("created", len(pairs)),
	)
	return 0
}

func parseFlags(args []string) (billingdomain.GenerateRequest, error) {
	fs := flag.NewFlagSet("billing-run", flag.ContinueOnError)
	month := fs.Int("month", 0, "billing month (1-12)")
	year := fs.Int("year", 0, "billing year")
	rate := fs.Float64("rate", 0, "import rate per kWh; defaults to the tariff file")
	creditRate := fs.Float64("credit-rate", 0, "export credit rate per kWh; defaults to the tariff file")
	if err := fs.Parse(args); err != nil {
		return billingdomain.GenerateRequest{}, err
	}

	req := billingdomain.GenerateRequest{
		Month:   *month,
		Year:    *year,
		Trigger: billingdomain.TriggerCLI,
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rate":
			req.RatePerKwh = rate
		case "credit-rate":
			req.CreditRatePerKwh = creditRate
		}
	})
	if req.Month < 1 || req.Month > 12 || req.Year < 1 {
		return req, fmt.Errorf("usage: billing-run -month 1-12 -year YYYY [-rate R] [-credit-rate C]")
	}
	return req, nil
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(4)
	if err != nil {
		panic(err)
	}
	return node
}
