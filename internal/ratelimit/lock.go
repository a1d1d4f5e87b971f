package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/netmetering/internal/clock"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lock is a best-effort mutual exclusion primitive keyed by name.
type Lock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if err := validateLock(key, ttl); err != nil {
		return "", false, err
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

type heldLock struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is the single-process Lock used when Redis is not configured.
type MemoryLocker struct {
	mu    sync.Mutex
	clock clock.Clock
	held  map[string]heldLock
}

func NewMemoryLocker(clk clock.Clock) *MemoryLocker {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &MemoryLocker{clock: clk, held: make(map[string]heldLock)}
}

func (m *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validateLock(key, ttl); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.held[key]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.held[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (m *MemoryLocker) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.held[key]; ok && current.token == token {
		delete(m.held, key)
	}
	return nil
}

func validateLock(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return errors.New("lock ttl must be positive")
	}
	return nil
}
