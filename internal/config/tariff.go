package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultRatePerKwh       = 30.0
	DefaultCreditRatePerKwh = 25.0
	DefaultDueDays          = 14
)

// TariffConfig holds the operator supplied net-metering rates.
type TariffConfig struct {
	RatePerKwh       float64 `mapstructure:"ratePerKwh"`
	CreditRatePerKwh float64 `mapstructure:"creditRatePerKwh"`
	DueDays          int     `mapstructure:"dueDays"`
}

func DefaultTariffConfig() TariffConfig {
	return TariffConfig{
		RatePerKwh:       DefaultRatePerKwh,
		CreditRatePerKwh: DefaultCreditRatePerKwh,
		DueDays:          DefaultDueDays,
	}
}

type TariffConfigHolder struct {
	current atomic.Value // holds TariffConfig
}

// NewStaticTariffHolder returns a holder that never reloads.
func NewStaticTariffHolder(cfg TariffConfig) *TariffConfigHolder {
	holder := &TariffConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewTariffConfigHolder(appCfg Config, log *zap.Logger) (*TariffConfigHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(appCfg.TariffConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tariff")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/netmetering")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NETMETERING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTariffConfig()
	v.SetDefault("tariff.ratePerKwh", defaults.RatePerKwh)
	v.SetDefault("tariff.creditRatePerKwh", defaults.CreditRatePerKwh)
	v.SetDefault("tariff.dueDays", defaults.DueDays)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg TariffConfig
	if err := v.UnmarshalKey("tariff", &cfg); err != nil {
		return nil, err
	}
	if err := validateTariffConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticTariffHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TariffConfig
		if err := v.UnmarshalKey("tariff", &updated); err != nil {
			log.Warn("tariff config reload failed", zap.Error(err))
			return
		}
		if err := validateTariffConfig(updated); err != nil {
			log.Warn("invalid tariff config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("tariff config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *TariffConfigHolder) Get() TariffConfig {
	if h == nil {
		return DefaultTariffConfig()
	}
	cfg, ok := h.current.Load().(TariffConfig)
	if !ok {
		return DefaultTariffConfig()
	}
	return cfg
}

func validateTariffConfig(cfg TariffConfig) error {
	if cfg.RatePerKwh < 0 {
		return errors.New("tariff.ratePerKwh cannot be negative")
	}
	if cfg.CreditRatePerKwh < 0 {
		return errors.New("tariff.creditRatePerKwh cannot be negative")
	}
	if cfg.DueDays <= 0 {
		return errors.New("tariff.dueDays must be positive")
	}
	return nil
}
