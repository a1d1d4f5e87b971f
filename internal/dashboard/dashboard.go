// Package dashboard assembles the read-only view served to the customer dashboard.
package dashboard

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	billingdomain "github.com/smallbiznis/netmetering/internal/billing/domain"
	readingdomain "github.com/smallbiznis/netmetering/internal/reading/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLimit = 30
	MinLimit     = 1
	MaxLimit     = 200
)

// ClampLimit parses the limit query parameter. Missing, empty and non-numeric values
// yield the default; numbers are floored and clamped to [MinLimit, MaxLimit].
func ClampLimit(raw string, present bool) int {
	raw = strings.TrimSpace(raw)
	if !present || raw == "" {
		return DefaultLimit
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) {
		return DefaultLimit
	}
	n = math.Floor(n)
	if n < MinLimit {
		return MinLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return int(n)
}

type Stats struct {
	ReadingCount      int64      `json:"readingCount"`
	PendingCount      int64      `json:"pendingCount"`
	VerifiedCount     int64      `json:"verifiedCount"`
	TotalKWhGenerated float64    `json:"totalKWhGenerated"`
	TotalKWhExported  float64    `json:"totalKWhExported"`
	TotalKWhImported  float64    `json:"totalKWhImported"`
	NetKWh            float64    `json:"netKWh"`
	OutstandingAmount float64    `json:"outstandingAmount"`
	LastReadingAt     *time.Time `json:"lastReadingAt"`
}

type Payload struct {
	CustomerID *string                       `json:"customerId"`
	Limit      int                           `json:"limit"`
	Readings   []*readingdomain.MeterReading `json:"readings"`
	Bills      []*billingdomain.MonthlyBill  `json:"bills"`
	Stats      Stats                         `json:"stats"`
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Readings readingdomain.Service
	Billing  billingdomain.Service
}

type Service struct {
	log      *zap.Logger
	readings readingdomain.Service
	billing  billingdomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		log:      p.Log.Named("dashboard.service"),
		readings: p.Readings,
		billing:  p.Billing,
	}
}

// Build loads recent readings, recent monthly bills and aggregate stats. An empty
// customerID covers every customer.
func (s *Service) Build(ctx context.Context, customerID string, limit int) (*Payload, error) {
	customerID = strings.TrimSpace(customerID)
	out := &Payload{Limit: limit}
	if customerID != "" {
		out.CustomerID = &customerID
	}

	var summary readingdomain.Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		readings, err := s.readings.List(gctx, readingdomain.ListRequest{CustomerID: customerID, Limit: limit})
		out.Readings = readings
		return err
	})
	g.Go(func() error {
		bills, err := s.billing.ListMonthlyBills(gctx, billingdomain.ListBillsRequest{CustomerID: customerID, Limit: limit})
		out.Bills = bills
		return err
	})
	g.Go(func() (err error) {
		summary, err = s.readings.Summarize(gctx, customerID)
		return err
	})
	g.Go(func() (err error) {
		out.Stats.OutstandingAmount, err = s.billing.OutstandingAmount(gctx, customerID)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error("failed to build dashboard", zap.String("customer_id", customerID), zap.Error(err))
		return nil, err
	}

	if out.Readings == nil {
		out.Readings = []*readingdomain.MeterReading{}
	}
	if out.Bills == nil {
		out.Bills = []*billingdomain.MonthlyBill{}
	}
	out.Stats.ReadingCount = summary.Count
	out.Stats.PendingCount = summary.PendingCount
	out.Stats.VerifiedCount = summary.VerifiedCount
	out.Stats.TotalKWhGenerated = summary.TotalKWhGenerated
	out.Stats.TotalKWhExported = summary.TotalKWhExported
	out.Stats.TotalKWhImported = summary.TotalKWhImported
	out.Stats.NetKWh = summary.NetKWh()
	out.Stats.LastReadingAt = summary.LastReadingAt
	return out, nil
}
