package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/netmetering/internal/observability/context"
	obslogger "github.com/smallbiznis/netmetering/internal/observability/logger"
	"github.com/smallbiznis/netmetering/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type billingRun struct {
	runID     string
	period    Period
	startedAt time.Time
	created   int
}

type billingRunKey struct{}

func (s *Scheduler) startRun(ctx context.Context, period Period) (context.Context, *billingRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &billingRun{
		runID:     s.genID.Generate().String(),
		period:    period,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, billingRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	return ctx, run
}

func runFromContext(ctx context.Context) *billingRun {
	if run, ok := ctx.Value(billingRunKey{}).(*billingRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	log := obslogger.WithContext(ctx, s.log)
	if run := runFromContext(ctx); run != nil {
		log = log.With(
			zap.String("run_id", run.runID),
			zap.Int("month", run.period.Month),
			zap.Int("year", run.period.Year),
		)
	}
	return log
}

func (s *Scheduler) logRunStart(ctx context.Context) {
	s.logger(ctx).Info("scheduler.billing.start", zap.Int("run_day", s.cfg.RunDay))
}

func (s *Scheduler) logRunFinish(ctx context.Context, run *billingRun, err error) {
	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("created_count", run.created),
	}
	if err != nil {
		s.logger(ctx).Error("scheduler.billing.finish", append(fields, zap.Error(err))...)
		return
	}
	s.logger(ctx).Info("scheduler.billing.finish", fields...)
}
