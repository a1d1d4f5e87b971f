// Package scheduler triggers the monthly billing run for the month that just closed.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/netmetering/internal/billing/domain"
	"github.com/smallbiznis/netmetering/internal/clock"
	obsmetrics "github.com/smallbiznis/netmetering/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Billing    billingdomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config                        `optional:"true"`
	RunMetrics *obsmetrics.BillingRunMetrics `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	billing    billingdomain.Service
	runMetrics *obsmetrics.BillingRunMetrics

	mu         sync.Mutex
	lastPeriod Period
}

// Period is a calendar month.
type Period struct {
	Month int
	Year  int
}

// PreviousPeriod returns the calendar month before t in UTC.
func PreviousPeriod(t time.Time) Period {
	first := time.Date(t.UTC().Year(), t.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	return Period{Month: int(prev.Month()), Year: prev.Year()}
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Billing == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		billing:    p.Billing,
		runMetrics: p.RunMetrics,
	}, nil
}

// RunOnce bills the previous month once the run day is reached. A period that already
// has monthly bills is never billed again by the scheduler. A failed run is not retried
// automatically because the pairs committed before the failure would be billed twice.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clock.Now().UTC()
	if now.Day() < s.cfg.RunDay {
		return nil
	}
	period := PreviousPeriod(now)

	s.mu.Lock()
	done := s.lastPeriod == period
	s.mu.Unlock()
	if done {
		return nil
	}

	ctx, run := s.startRun(ctx, period)
	log := s.logger(ctx)

	billed, err := s.billing.PeriodBilled(ctx, period.Month, period.Year)
	if err != nil {
		log.Error("scheduler.billing.check_failed", zap.Error(err))
		return err
	}
	if billed {
		log.Debug("scheduler.billing.already_billed")
		s.markDone(period)
		return nil
	}

	s.logRunStart(ctx)
	pairs, err := s.billing.GenerateMonthlyBills(ctx, billingdomain.GenerateRequest{
		Month:   period.Month,
		Year:    period.Year,
		Trigger: billingdomain.TriggerScheduler,
	})
	run.created = len(pairs)
	if errors.Is(err, billingdomain.ErrRunInProgress) {
		log.Info("scheduler.billing.skipped", zap.String("reason", "run_in_progress"))
		return nil
	}
	s.markDone(period)
	s.logRunFinish(ctx, run, err)
	return err
}

func (s *Scheduler) markDone(period Period) {
	s.mu.Lock()
	s.lastPeriod = period
	s.mu.Unlock()
}

// RunForever checks on every CheckInterval tick until ctx is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.CheckInterval)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lag := time.Since(nextRun); lag > 0 {
			s.runMetrics.ObserveRunLoopLag(lag)
		}
		nextRun = nextRun.Add(s.cfg.CheckInterval)
	}
}
