package domain

import (
	"context"
	"errors"
)

const (
	TriggerManual    = "manual"
	TriggerScheduler = "scheduler"
	TriggerCLI       = "cli"
)

// GenerateRequest selects a billing period. Nil rates fall back to the tariff configuration.
type GenerateRequest struct {
	Month            int      `json:"month"`
	Year             int      `json:"year"`
	RatePerKwh       *float64 `json:"ratePerKwh"`
	CreditRatePerKwh *float64 `json:"creditRatePerKwh"`
	Trigger          string   `json:"-"`
}

type ListInvoicesRequest struct {
	CustomerID string
	Limit      int
}

type ListBillsRequest struct {
	CustomerID string
	Limit      int
}

type Service interface {
	GenerateMonthlyBills(ctx context.Context, req GenerateRequest) ([]BillPair, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]*Invoice, error)
	ListMonthlyBills(ctx context.Context, req ListBillsRequest) ([]*MonthlyBill, error)
	OutstandingAmount(ctx context.Context, customerID string) (float64, error)
	// PeriodBilled reports whether any monthly bill exists for the period.
	PeriodBilled(ctx context.Context, month, year int) (bool, error)
}

var (
	ErrInvalidPeriod = errors.New("invalid_billing_period")
	ErrInvalidRate   = errors.New("invalid_rate")
	ErrRunInProgress = errors.New("billing_run_in_progress")
)
