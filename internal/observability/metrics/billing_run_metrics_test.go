package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyBillingRunReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: BillingRunReasonDeadlineExceeded},
		{name: "wrapped_deadline", err: fmt.Errorf("list readings: %w", context.DeadlineExceeded), want: BillingRunReasonDeadlineExceeded},
		{name: "lock_held", err: fmt.Errorf("billing run in progress: %w", ErrLockHeld), want: BillingRunReasonLockHeld},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: BillingRunReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: BillingRunReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: BillingRunReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: BillingRunReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyBillingRunReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newBillingRunMetrics(registry, Config{ServiceName: "netmetering", Environment: "test"})

	m.ObserveRun("manual", time.Second, 3, nil)
	m.ObserveRun("scheduler", 2*time.Second, 1, context.DeadlineExceeded)

	if got := testutil.ToFloat64(m.billsCreated.WithLabelValues("manual")); got != 3 {
		t.Fatalf("expected 3 bills, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("scheduler", "error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
	if got := testutil.ToFloat64(m.timeouts.WithLabelValues("scheduler")); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
}
