package scheduler

import (
	"time"

	"github.com/smallbiznis/netmetering/internal/config"
)

// Config controls when the monthly billing run fires.
type Config struct {
	Enabled bool
	// RunDay is the UTC day of month from which the previous month is billed.
	RunDay        int
	CheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunDay:        1,
		CheckInterval: time.Hour,
	}
}

// ProvideConfig maps the billing run settings of the process configuration.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:       cfg.Billing.SchedulerEnabled,
		RunDay:        cfg.Billing.RunDay,
		CheckInterval: cfg.Billing.CheckInterval,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunDay < 1 || c.RunDay > 28 {
		c.RunDay = defaults.RunDay
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaults.CheckInterval
	}
	return c
}
