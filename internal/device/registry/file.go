package registry

import (
	"errors"
	"strings"

	"github.com/smallbiznis/netmetering/internal/config"
	devicedomain "github.com/smallbiznis/netmetering/internal/device/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Load reads the `devices` list from a YAML or JSON file.
func Load(path string) ([]devicedomain.Registration, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("device registry path is required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var registrations []devicedomain.Registration
	if err := v.UnmarshalKey("devices", &registrations); err != nil {
		return nil, err
	}
	return registrations, nil
}

// Provide loads the configured registry file. The registry is not reloaded at runtime.
func Provide(cfg config.Config, log *zap.Logger) (devicedomain.Registry, error) {
	registrations, err := Load(cfg.DeviceRegistryPath)
	if err != nil {
		return nil, err
	}
	reg, err := NewStatic(registrations)
	if err != nil {
		return nil, err
	}
	log.Info("device registry loaded",
		zap.String("path", cfg.DeviceRegistryPath),
		zap.Int("devices", len(registrations)),
	)
	return reg, nil
}
