package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/reading/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 30
	MaxListLimit     = 200
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("reading.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.NewReading) (*domain.MeterReading, error) {
	if err := validateNewReading(req); err != nil {
		return nil, err
	}

	reading := &domain.MeterReading{
		ID:            s.genID.Generate(),
		CustomerID:    strings.TrimSpace(req.CustomerID),
		ApplicationID: normalizeOptional(req.ApplicationID),
		DeviceID:      strings.TrimSpace(req.DeviceID),
		KWhGenerated:  req.KWhGenerated,
		KWhExported:   req.KWhExported,
		KWhImported:   req.KWhImported,
		Voltage:       req.Voltage,
		Current:       req.Current,
		Timestamp:     req.Timestamp.UTC(),
		CreatedAt:     s.clock.Now().UTC(),
		Status:        domain.StatusPending,
	}
	if err := s.repo.Create(ctx, s.db, reading); err != nil {
		return nil, fmt.Errorf("create reading: %w", err)
	}
	return reading, nil
}

// Verify moves a pending reading to verified and derives its billing period and net units.
func (s *Service) Verify(ctx context.Context, id string) (*domain.MeterReading, error) {
	readingID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var verified *domain.MeterReading
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reading, err := s.repo.FindByID(ctx, tx, readingID)
		if err != nil {
			return err
		}
		if reading == nil {
			return domain.ErrNotFound
		}
		if reading.Status != domain.StatusPending {
			return domain.ErrAlreadyVerified
		}

		ts := reading.Timestamp.UTC()
		month, year := int(ts.Month()), ts.Year()
		netUnits := domain.NetUnitsOf(reading.KWhImported, reading.KWhExported)

		updated, err := s.repo.MarkVerified(ctx, tx, readingID, month, year, netUnits)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrAlreadyVerified
		}

		reading.Status = domain.StatusVerified
		reading.Month = &month
		reading.Year = &year
		reading.NetUnits = &netUnits
		verified = reading
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reading verified",
		zap.String("reading_id", verified.ID.String()),
		zap.Int("month", *verified.Month),
		zap.Int("year", *verified.Year),
	)
	return verified, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.MeterReading, error) {
	readingID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	reading, err := s.repo.FindByID(ctx, s.db, readingID)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, domain.ErrNotFound
	}
	return reading, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]*domain.MeterReading, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	return s.repo.FindMany(ctx, s.db, domain.Filter{
		CustomerID: strings.TrimSpace(req.CustomerID),
		Limit:      limit,
	})
}

// ListVerified returns the readings eligible for billing in a period, oldest first.
func (s *Service) ListVerified(ctx context.Context, month, year int) ([]*domain.MeterReading, error) {
	if month < 1 || month > 12 || year <= 0 {
		return nil, domain.ErrInvalidPeriod
	}
	return s.repo.FindMany(ctx, s.db, domain.Filter{
		Status: domain.StatusVerified,
		Month:  month,
		Year:   year,
		Oldest: true,
	})
}

func (s *Service) Summarize(ctx context.Context, customerID string) (domain.Summary, error) {
	return s.repo.Summarize(ctx, s.db, strings.TrimSpace(customerID))
}

func validateNewReading(req domain.NewReading) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return domain.ErrInvalidCustomer
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		return domain.ErrInvalidDevice
	}
	for _, v := range []float64{req.KWhGenerated, req.KWhExported, req.KWhImported} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.ErrInvalidEnergy
		}
	}
	if req.Timestamp.IsZero() {
		return domain.ErrInvalidTimestamp
	}
	return nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed <= 0 {
		return 0, domain.ErrInvalidID
	}
	return parsed, nil
}
