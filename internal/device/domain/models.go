// Package domain describes registered metering devices and how they are resolved.
package domain

import "errors"

// Registration maps a device token to its owning customer and application.
// Secret is the pre-shared HMAC key and must never leave the process.
type Registration struct {
	DeviceToken   string `mapstructure:"token" json:"-"`
	DeviceID      string `mapstructure:"deviceId" json:"deviceId"`
	ApplicationID string `mapstructure:"applicationId" json:"applicationId"`
	CustomerID    string `mapstructure:"customerId" json:"customerId"`
	Secret        string `mapstructure:"secret" json:"-"`
}

// Registry resolves device tokens. Implementations are read-only after construction.
type Registry interface {
	Resolve(token string) (Registration, bool)
}

var (
	ErrEmptyToken     = errors.New("empty_device_token")
	ErrDuplicateToken = errors.New("duplicate_device_token")
	ErrMissingSecret  = errors.New("missing_device_secret")
	ErrMissingOwner   = errors.New("missing_device_customer")
)
