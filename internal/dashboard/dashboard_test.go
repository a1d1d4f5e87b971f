package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	billingdomain "github.com/smallbiznis/netmetering/internal/billing/domain"
	readingdomain "github.com/smallbiznis/netmetering/internal/reading/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClampLimit(t *testing.T) {
	cases := []struct {
		raw     string
		present bool
		want    int
	}{
		{raw: "", present: false, want: 30},
		{raw: "", present: true, want: 30},
		{raw: "0", present: true, want: 1},
		{raw: "-5", present: true, want: 1},
		{raw: "500", present: true, want: 200},
		{raw: "abc", present: true, want: 30},
		{raw: "NaN", present: true, want: 30},
		{raw: "12.9", present: true, want: 12},
		{raw: "0.5", present: true, want: 1},
		{raw: "200", present: true, want: 200},
		{raw: "1", present: true, want: 1},
		{raw: " 45 ", present: true, want: 45},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClampLimit(tc.raw, tc.present), "limit=%q present=%v", tc.raw, tc.present)
	}
}

type readingsMock struct {
	mock.Mock
	readingdomain.Service
}

func (m *readingsMock) List(ctx context.Context, req readingdomain.ListRequest) ([]*readingdomain.MeterReading, error) {
	args := m.Called(ctx, req)
	readings, _ := args.Get(0).([]*readingdomain.MeterReading)
	return readings, args.Error(1)
}

func (m *readingsMock) Summarize(ctx context.Context, customerID string) (readingdomain.Summary, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(readingdomain.Summary), args.Error(1)
}

type billingMock struct {
	mock.Mock
	billingdomain.Service
}

func (m *billingMock) ListMonthlyBills(ctx context.Context, req billingdomain.ListBillsRequest) ([]*billingdomain.MonthlyBill, error) {
	args := m.Called(ctx, req)
	bills, _ := args.Get(0).([]*billingdomain.MonthlyBill)
	return bills, args.Error(1)
}

func (m *billingMock) OutstandingAmount(ctx context.Context, customerID string) (float64, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(float64), args.Error(1)
}

func TestBuildAggregatesReadingsBillsAndStats(t *testing.T) {
	last := time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC)
	readings := &readingsMock{}
	readings.On("List", mock.Anything, readingdomain.ListRequest{CustomerID: "cust-1", Limit: 10}).
		Return([]*readingdomain.MeterReading{{CustomerID: "cust-1"}}, nil)
	readings.On("Summarize", mock.Anything, "cust-1").Return(readingdomain.Summary{
		Count:             3,
		PendingCount:      1,
		VerifiedCount:     2,
		TotalKWhGenerated: 50,
		TotalKWhExported:  30,
		TotalKWhImported:  12,
		LastReadingAt:     &last,
	}, nil)

	billing := &billingMock{}
	billing.On("ListMonthlyBills", mock.Anything, billingdomain.ListBillsRequest{CustomerID: "cust-1", Limit: 10}).
		Return([]*billingdomain.MonthlyBill{{CustomerID: "cust-1", NetAmount: -450}}, nil)
	billing.On("OutstandingAmount", mock.Anything, "cust-1").Return(-450.0, nil)

	svc := NewService(Params{Log: zap.NewNop(), Readings: readings, Billing: billing})
	payload, err := svc.Build(context.Background(), " cust-1 ", 10)
	require.NoError(t, err)

	require.NotNil(t, payload.CustomerID)
	assert.Equal(t, "cust-1", *payload.CustomerID)
	assert.Equal(t, 10, payload.Limit)
	assert.Len(t, payload.Readings, 1)
	assert.Len(t, payload.Bills, 1)
	assert.Equal(t, Stats{
		ReadingCount:      3,
		PendingCount:      1,
		VerifiedCount:     2,
		TotalKWhGenerated: 50,
		TotalKWhExported:  30,
		TotalKWhImported:  12,
		NetKWh:            -18,
		OutstandingAmount: -450,
		LastReadingAt:     &last,
	}, payload.Stats)
}

func TestBuildWithoutCustomerReturnsEmptyLists(t *testing.T) {
	readings := &readingsMock{}
	readings.On("List", mock.Anything, mock.Anything).Return(nil, nil)
	readings.On("Summarize", mock.Anything, "").Return(readingdomain.Summary{}, nil)
	billing := &billingMock{}
	billing.On("ListMonthlyBills", mock.Anything, mock.Anything).Return(nil, nil)
	billing.On("OutstandingAmount", mock.Anything, "").Return(0.0, nil)

	payload, err := NewService(Params{Log: zap.NewNop(), Readings: readings, Billing: billing}).
		Build(context.Background(), "", DefaultLimit)
	require.NoError(t, err)
	assert.Nil(t, payload.CustomerID)
	assert.NotNil(t, payload.Readings)
	assert.Empty(t, payload.Readings)
	assert.NotNil(t, payload.Bills)
	assert.Nil(t, payload.Stats.LastReadingAt)
}

func TestBuildPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	readings := &readingsMock{}
	readings.On("List", mock.Anything, mock.Anything).Return(nil, boom)
	readings.On("Summarize", mock.Anything, mock.Anything).Return(readingdomain.Summary{}, nil)
	billing := &billingMock{}
	billing.On("ListMonthlyBills", mock.Anything, mock.Anything).Return(nil, nil)
	billing.On("OutstandingAmount", mock.Anything, mock.Anything).Return(0.0, nil)

	_, err := NewService(Params{Log: zap.NewNop(), Readings: readings, Billing: billing}).
		Build(context.Background(), "cust-1", 5)
	assert.ErrorIs(t, err, boom)
}
