package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/netmetering/pkg/db"
)

const (
	BillingRunReasonDeadlineExceeded     = "deadline_exceeded"
	BillingRunReasonLockHeld             = "lock_held"
	BillingRunReasonDBLockTimeout        = "db_lock_timeout"
	BillingRunReasonSerializationFailure = "serialization_failure"
	BillingRunReasonUniqueViolation      = "unique_violation"
	BillingRunReasonUnknown              = "unknown"
)

// ErrLockHeld is matched by classification when another run owns the period.
// Services wrap their own sentinel with it so this package stays free of domain imports.
var ErrLockHeld = errors.New("billing_run_lock_held")

// BillingRunMetrics captures monthly billing run health on the Prometheus registry.
type BillingRunMetrics struct {
	runs          *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	timeouts      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	billsCreated  *prometheus.CounterVec
	runLoopLag    prometheus.Histogram
	lastSuccessTS *prometheus.GaugeVec
}

var (
	billingRunMetricsOnce sync.Once
	billingRunMetrics     *BillingRunMetrics
)

// NewBillingRunMetrics returns the process-wide billing run metrics registered on the default registry.
func NewBillingRunMetrics(cfg Config) *BillingRunMetrics {
	billingRunMetricsOnce.Do(func() {
		billingRunMetrics = newBillingRunMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingRunMetrics
}

func newBillingRunMetrics(registerer prometheus.Registerer, cfg Config) *BillingRunMetrics {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "netmetering"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &BillingRunMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "netmetering_billing_runs_total",
			Help:        "Billing runs by trigger and outcome.",
			ConstLabels: constLabels,
		}, []string{"trigger", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "netmetering_billing_run_duration_seconds",
			Help:        "Billing run latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}, []string{"trigger"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "netmetering_billing_run_timeouts_total",
			Help:        "Billing runs that exceeded their computed deadline.",
			ConstLabels: constLabels,
		}, []string{"trigger"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "netmetering_billing_run_errors_total",
			Help:        "Billing run failures by reason.",
			ConstLabels: constLabels,
		}, []string{"trigger", "reason"}),
		billsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "netmetering_billing_run_bills_created_total",
			Help:        "Invoice and bill pairs written by billing runs.",
			ConstLabels: constLabels,
		}, []string{"trigger"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "netmetering_billing_scheduler_loop_lag_seconds",
			Help:        "Lag between the scheduled tick and the actual check.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}),
		lastSuccessTS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "netmetering_billing_run_last_success_timestamp_seconds",
			Help:        "Unix time of the last successful billing run.",
			ConstLabels: constLabels,
		}, []string{"trigger"}),
	}

	registerer.MustRegister(
		m.runs,
		m.duration,
		m.timeouts,
		m.errors,
		m.billsCreated,
		m.runLoopLag,
		m.lastSuccessTS,
	)
	return m
}

// ObserveRun records the outcome of one billing run.
func (m *BillingRunMetrics) ObserveRun(trigger string, duration time.Duration, created int, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(trigger).Observe(duration.Seconds())
	if created > 0 {
		m.billsCreated.WithLabelValues(trigger).Add(float64(created))
	}
	if err == nil {
		m.runs.WithLabelValues(trigger, "success").Inc()
		m.lastSuccessTS.WithLabelValues(trigger).SetToCurrentTime()
		return
	}

	reason := ClassifyBillingRunReason(err)
	m.runs.WithLabelValues(trigger, "error").Inc()
	m.errors.WithLabelValues(trigger, reason).Inc()
	if reason == BillingRunReasonDeadlineExceeded {
		m.timeouts.WithLabelValues(trigger).Inc()
	}
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *BillingRunMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(lag, 0).Seconds())
}

// ClassifyBillingRunReason maps billing run errors to low-cardinality reasons.
func ClassifyBillingRunReason(err error) string {
	switch {
	case err == nil:
		return BillingRunReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return BillingRunReasonDeadlineExceeded
	case errors.Is(err, ErrLockHeld):
		return BillingRunReasonLockHeld
	case db.SQLState(err) == db.SQLStateLockNotAvailable:
		return BillingRunReasonDBLockTimeout
	case db.SQLState(err) == db.SQLStateSerializationFailure:
		return BillingRunReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return BillingRunReasonUniqueViolation
	default:
		return BillingRunReasonUnknown
	}
}
