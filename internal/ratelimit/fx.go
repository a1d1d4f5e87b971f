package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewDeviceLimiter),
	fx.Provide(NewLock),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Clock     clock.Clock
	Log       *zap.Logger
	Redis     *redis.Client `optional:"true"`
}

// NewRedisClient returns nil when no Redis address is configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	addr := cfg.RateLimit.RedisAddr
	if addr == "" {
		if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
			return nil, errors.New("rate limit redis addr is required")
		}
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// NewDeviceLimiter picks the configured backend for per-device ingestion limits.
func NewDeviceLimiter(p Params) (Limiter, error) {
	cfg := p.Config.RateLimit
	switch cfg.Backend {
	case config.RateLimitBackendRedis:
		if p.Redis == nil {
			return nil, errors.New("rate limit redis client is required")
		}
		p.Log.Info("device rate limiter using redis", zap.Duration("window", cfg.Window), zap.Int("limit", cfg.Limit))
		return NewRedisFixedWindow(p.Redis, cfg.Window, cfg.Limit), nil
	case config.RateLimitBackendMemory, "":
		limiter := NewFixedWindow(p.Clock, cfg.Window, cfg.Limit)
		registerSweeper(p.Lifecycle, limiter, cfg.SweepInterval, p.Log)
		p.Log.Info("device rate limiter using memory", zap.Duration("window", cfg.Window), zap.Int("limit", cfg.Limit))
		return limiter, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.Backend)
	}
}

// NewLock shares Redis with the limiter when present.
func NewLock(p Params) Lock {
	if p.Redis != nil {
		return NewLocker(p.Redis)
	}
	return NewMemoryLocker(p.Clock)
}

func registerSweeper(lc fx.Lifecycle, limiter *FixedWindow, interval time.Duration, log *zap.Logger) {
	if lc == nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if removed := limiter.Sweep(); removed > 0 {
							log.Debug("swept expired rate limit windows", zap.Int("removed", removed))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
