package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// NewReading is an authenticated, validated reading ready to persist.
type NewReading struct {
	CustomerID    string
	ApplicationID *string
	DeviceID      string
	KWhGenerated  float64
	KWhExported   float64
	KWhImported   float64
	Voltage       *float64
	Current       *float64
	Timestamp     time.Time
}

type ListRequest struct {
	CustomerID string
	Limit      int
}

// Filter selects readings. Zero values are ignored.
type Filter struct {
	CustomerID string
	Status     Status
	Month      int
	Year       int
	Limit      int
	// Oldest orders by timestamp then id ascending; otherwise newest first.
	Oldest bool
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, reading *MeterReading) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MeterReading, error)
	FindMany(ctx context.Context, db *gorm.DB, filter Filter) ([]*MeterReading, error)
	MarkVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, month, year int, netUnits float64) (bool, error)
	Summarize(ctx context.Context, db *gorm.DB, customerID string) (Summary, error)
}

type Service interface {
	Create(ctx context.Context, req NewReading) (*MeterReading, error)
	Verify(ctx context.Context, id string) (*MeterReading, error)
	Get(ctx context.Context, id string) (*MeterReading, error)
	List(ctx context.Context, req ListRequest) ([]*MeterReading, error)
	ListVerified(ctx context.Context, month, year int) ([]*MeterReading, error)
	Summarize(ctx context.Context, customerID string) (Summary, error)
}

var (
	ErrInvalidID        = errors.New("invalid_reading_id")
	ErrNotFound         = errors.New("reading_not_found")
	ErrAlreadyVerified  = errors.New("reading_already_verified")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidDevice    = errors.New("invalid_device")
	ErrInvalidEnergy    = errors.New("invalid_energy_value")
	ErrInvalidTimestamp = errors.New("invalid_timestamp")
	ErrInvalidPeriod    = errors.New("invalid_period")
)
