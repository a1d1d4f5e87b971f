package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netmetering/internal/billing/domain"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/config"
	"github.com/smallbiznis/netmetering/internal/events"
	obsmetrics "github.com/smallbiznis/netmetering/internal/observability/metrics"
	"github.com/smallbiznis/netmetering/internal/ratelimit"
	readingdomain "github.com/smallbiznis/netmetering/internal/reading/domain"
	"github.com/smallbiznis/netmetering/pkg/db/option"
	"github.com/smallbiznis/netmetering/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 30
	maxListLimit     = 200
)

var listSort = option.WithSortBy(option.QuerySortBy{
	Allow:  map[string]bool{"created_at": true, "id": true},
	Fields: []string{"created_at", "id"},
	Desc:   true,
})

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Tariff     *config.TariffConfigHolder
	Readings   readingdomain.Service
	Lock       ratelimit.Lock
	Publisher  events.Publisher              `optional:"true"`
	Metrics    *obsmetrics.Metrics           `optional:"true"`
	RunMetrics *obsmetrics.BillingRunMetrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	runCfg     config.BillingRunConfig
	tariff     *config.TariffConfigHolder
	readings   readingdomain.Service
	lock       ratelimit.Lock
	publisher  events.Publisher
	metrics    *obsmetrics.Metrics
	runMetrics *obsmetrics.BillingRunMetrics

	invoicerepo repository.Repository[domain.Invoice]
	billrepo    repository.Repository[domain.MonthlyBill]
}

func NewService(p ServiceParam) domain.Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("billing.service"),
		genID: p.GenID,
		clock: p.Clock,

		runCfg:     withRunDefaults(p.Config.Billing),
		tariff:     p.Tariff,
		readings:   p.Readings,
		lock:       p.Lock,
		publisher:  publisher,
		metrics:    p.Metrics,
		runMetrics: p.RunMetrics,

		invoicerepo: repository.ProvideStore[domain.Invoice](p.DB),
		billrepo:    repository.ProvideStore[domain.MonthlyBill](p.DB),
	}
}

func withRunDefaults(cfg config.BillingRunConfig) config.BillingRunConfig {
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 30 * time.Second
	}
	if cfg.PerReadingBudget <= 0 {
		cfg.PerReadingBudget = 200 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return cfg
}

type rates struct {
	rate       float64
	creditRate float64
	dueDays    int
}

func (s *Service) resolveRates(req domain.GenerateRequest) (rates, error) {
	tariff := s.tariff.Get()
	r := rates{rate: tariff.RatePerKwh, creditRate: tariff.CreditRatePerKwh, dueDays: tariff.DueDays}
	if req.RatePerKwh != nil {
		r.rate = *req.RatePerKwh
	}
	if req.CreditRatePerKwh != nil {
		r.creditRate = *req.CreditRatePerKwh
	}
	for _, v := range []float64{r.rate, r.creditRate} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return rates{}, domain.ErrInvalidRate
		}
	}
	if r.dueDays <= 0 {
		r.dueDays = config.DefaultDueDays
	}
	return r, nil
}

// GenerateMonthlyBills turns every verified reading of the period into an invoice and
// monthly bill pair. Each pair is written in its own transaction. The first failure stops
// the run and the pairs already committed are returned together with the error.
// Readings carry no billed marker, so running a period twice bills it twice.
func (s *Service) GenerateMonthlyBills(ctx context.Context, req domain.GenerateRequest) (pairs []domain.BillPair, err error) {
	start := time.Now()
	trigger := req.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	defer func() {
		s.runMetrics.ObserveRun(trigger, time.Since(start), len(pairs), metricsErr(err))
	}()

	if req.Month < 1 || req.Month > 12 || req.Year <= 0 {
		return nil, domain.ErrInvalidPeriod
	}
	r, err := s.resolveRates(req)
	if err != nil {
		return nil, err
	}

	lockKey := fmt.Sprintf("billing:period:%04d-%02d", req.Year, req.Month)
	token, ok, err := s.lock.TryLock(ctx, lockKey, s.runCfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire billing lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrRunInProgress
	}
	defer func() {
		if releaseErr := s.lock.Release(context.WithoutCancel(ctx), lockKey, token); releaseErr != nil {
			s.log.Warn("failed to release billing lock", zap.String("lock_key", lockKey), zap.Error(releaseErr))
		}
	}()

	listCtx, cancelList := context.WithTimeout(ctx, s.runCfg.BaseTimeout)
	readings, err := s.readings.ListVerified(listCtx, req.Month, req.Year)
	cancelList()
	if err != nil {
		return nil, fmt.Errorf("list verified readings: %w", err)
	}

	budget := s.runCfg.BaseTimeout + time.Duration(len(readings))*s.runCfg.PerReadingBudget
	runCtx, cancel := context.WithDeadline(ctx, start.Add(budget))
	defer cancel()

	log := s.log.With(
		zap.Int("month", req.Month),
		zap.Int("year", req.Year),
		zap.String("trigger", trigger),
	)
	log.Info("billing run started",
		zap.Int("readings", len(readings)),
		zap.Float64("rate_per_kwh", r.rate),
		zap.Float64("credit_rate_per_kwh", r.creditRate),
		zap.Duration("budget", budget),
	)

	pairs = make([]domain.BillPair, 0, len(readings))
	for _, reading := range readings {
		if err := runCtx.Err(); err != nil {
			log.Error("billing run deadline exceeded", zap.Int("created", len(pairs)), zap.Error(err))
			return pairs, fmt.Errorf("billing run aborted: %w", err)
		}

		pair, err := s.billReading(runCtx, reading, r)
		if err != nil {
			log.Error("billing run aborted",
				zap.String("reading_id", reading.ID.String()),
				zap.Int("created", len(pairs)),
				zap.Error(err),
			)
			return pairs, fmt.Errorf("bill reading %s: %w", reading.ID, err)
		}
		pairs = append(pairs, pair)
		s.afterBilled(ctx, pair)
	}

	log.Info("billing run finished", zap.Int("created", len(pairs)), zap.Duration("duration", time.Since(start)))
	return pairs, nil
}

func (s *Service) billReading(ctx context.Context, reading *readingdomain.MeterReading, r rates) (domain.BillPair, error) {
	netUnits := reading.NetUnitsValue()
	amount := domain.ComputeAmount(netUnits, r.rate, r.creditRate)
	imported, exported := domain.ImportedExported(netUnits)
	now := s.clock.Now().UTC()

	invoice := &domain.Invoice{
		ID:            s.genID.Generate(),
		ApplicationID: reading.ApplicationID,
		CustomerID:    reading.CustomerID,
		Type:          domain.InvoiceTypeMonthlyBill,
		Description:   domain.InvoiceDescription(reading.Timestamp),
		Amount:        amount,
		Status:        domain.InvoiceStatusPending,
		DueDate:       domain.DueDate(reading.Timestamp, r.dueDays),
		LineItems: []domain.LineItem{{
			Description: domain.LineItemDescription(netUnits),
			Quantity:    1,
			UnitPrice:   amount,
			Total:       amount,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	month, year := int(reading.Timestamp.UTC().Month()), reading.Timestamp.UTC().Year()
	if reading.Month != nil {
		month = *reading.Month
	}
	if reading.Year != nil {
		year = *reading.Year
	}
	bill := &domain.MonthlyBill{
		ID:            s.genID.Generate(),
		InvoiceID:     invoice.ID,
		CustomerID:    reading.CustomerID,
		ApplicationID: reading.ApplicationID,
		Month:         month,
		Year:          year,
		KWhGenerated:  reading.KWhGenerated,
		KWhExported:   exported,
		KWhImported:   imported,
		NetAmount:     invoice.Amount,
		CreatedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, invoice); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		if err := s.billrepo.WithTrx(tx).Create(ctx, bill); err != nil {
			return fmt.Errorf("create monthly bill: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.BillPair{}, err
	}
	return domain.BillPair{Bill: bill, Invoice: invoice}, nil
}

type billGeneratedEvent struct {
	InvoiceID  string  `json:"invoiceId"`
	BillID     string  `json:"billId"`
	CustomerID string  `json:"customerId"`
	Month      int     `json:"month"`
	Year       int     `json:"year"`
	Amount     float64 `json:"amount"`
}

func (s *Service) afterBilled(ctx context.Context, pair domain.BillPair) {
	netUnits := pair.Bill.KWhImported - pair.Bill.KWhExported
	s.metrics.RecordBillGenerated(ctx, domain.Direction(netUnits), math.Abs(netUnits))

	err := s.publisher.Publish(ctx, events.RoutingKeyBillGenerated, billGeneratedEvent{
		InvoiceID:  pair.Invoice.ID.String(),
		BillID:     pair.Bill.ID.String(),
		CustomerID: pair.Bill.CustomerID,
		Month:      pair.Bill.Month,
		Year:       pair.Bill.Year,
		Amount:     pair.Invoice.Amount,
	})
	if err != nil {
		s.log.Warn("failed to publish bill event", zap.String("invoice_id", pair.Invoice.ID.String()), zap.Error(err))
	}
}

func (s *Service) ListInvoices(ctx context.Context, req domain.ListInvoicesRequest) ([]*domain.Invoice, error) {
	return s.invoicerepo.Find(ctx,
		&domain.Invoice{CustomerID: strings.TrimSpace(req.CustomerID)},
		listSort,
		option.WithLimit(clampLimit(req.Limit)),
	)
}

func (s *Service) ListMonthlyBills(ctx context.Context, req domain.ListBillsRequest) ([]*domain.MonthlyBill, error) {
	return s.billrepo.Find(ctx,
		&domain.MonthlyBill{CustomerID: strings.TrimSpace(req.CustomerID)},
		listSort,
		option.WithLimit(clampLimit(req.Limit)),
	)
}

// OutstandingAmount sums unpaid invoice amounts. Credits reduce the total.
func (s *Service) OutstandingAmount(ctx context.Context, customerID string) (float64, error) {
	stmt := s.db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("status IN ?", []domain.InvoiceStatus{domain.InvoiceStatusPending, domain.InvoiceStatusOverdue})
	if customerID = strings.TrimSpace(customerID); customerID != "" {
		stmt = stmt.Where("customer_id = ?", customerID)
	}
	var total float64
	if err := stmt.Select("COALESCE(SUM(amount), 0)").Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) PeriodBilled(ctx context.Context, month, year int) (bool, error) {
	if month < 1 || month > 12 || year <= 0 {
		return false, domain.ErrInvalidPeriod
	}
	count, err := s.billrepo.Count(ctx, &domain.MonthlyBill{Month: month, Year: year})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func metricsErr(err error) error {
	if errors.Is(err, domain.ErrRunInProgress) {
		return obsmetrics.ErrLockHeld
	}
	return err
}
