// Package domain contains the meter reading model and its lifecycle rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
)

// MeterReading is one telemetry sample accepted from a registered device.
// It is immutable after creation except for verification and the derived period fields.
type MeterReading struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID    string       `gorm:"type:text;not null;index" json:"customerId"`
	ApplicationID *string      `gorm:"type:text" json:"applicationId"`
	DeviceID      string       `gorm:"type:text;not null" json:"deviceId"`
	KWhGenerated  float64      `gorm:"column:kwh_generated;not null" json:"kWhGenerated"`
	KWhExported   float64      `gorm:"column:kwh_exported;not null" json:"kWhExported"`
	KWhImported   float64      `gorm:"column:kwh_imported;not null" json:"kWhImported"`
	Voltage       *float64     `gorm:"column:voltage" json:"voltage"`
	Current       *float64     `gorm:"column:current_amps" json:"current"`
	Timestamp     time.Time    `gorm:"column:recorded_at;not null;index" json:"timestamp"`
	CreatedAt     time.Time    `gorm:"not null" json:"createdAt"`
	Status        Status       `gorm:"type:text;not null;index" json:"status"`
	Month         *int         `gorm:"index:idx_meter_readings_period" json:"month"`
	Year          *int         `gorm:"index:idx_meter_readings_period" json:"year"`
	NetUnits      *float64     `json:"netUnits"`
}

// TableName sets the database table name.
func (MeterReading) TableName() string { return "meter_readings" }

// NetUnitsValue returns the signed net energy, zero when the reading is not yet verified.
func (r MeterReading) NetUnitsValue() float64 {
	if r.NetUnits == nil {
		return 0
	}
	return *r.NetUnits
}

// NetUnitsOf is imported minus exported energy. Positive means the customer is a net consumer.
func NetUnitsOf(imported, exported float64) float64 {
	return imported - exported
}

// Summary aggregates a customer's readings for the dashboard.
type Summary struct {
	Count             int64      `json:"count"`
	PendingCount      int64      `json:"pendingCount"`
	VerifiedCount     int64      `json:"verifiedCount"`
	TotalKWhGenerated float64    `json:"totalKWhGenerated"`
	TotalKWhExported  float64    `json:"totalKWhExported"`
	TotalKWhImported  float64    `json:"totalKWhImported"`
	LastReadingAt     *time.Time `json:"lastReadingAt"`
}

// NetKWh is total imported minus total exported energy.
func (s Summary) NetKWh() float64 {
	return NetUnitsOf(s.TotalKWhImported, s.TotalKWhExported)
}
