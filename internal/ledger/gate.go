package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rentdesk/rentdesk/internal/shared"
)

// Gate limits accrual sweeps to one run per calendar date.
type Gate interface {
	// TryAcquire reports whether the caller may sweep for day.
	TryAcquire(ctx context.Context, day time.Time) (bool, error)
	// Release re-opens day after a sweep that could not run.
	Release(ctx context.Context, day time.Time) error
}

// MemoryGate is a process-local Gate.
type MemoryGate struct {
	mu   sync.Mutex
	last time.Time
}

// NewMemoryGate returns an open gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{}
}

// TryAcquire implements Gate.
func (g *MemoryGate) TryAcquire(_ context.Context, day time.Time) (bool, error) {
	day = DateOf(day)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.Equal(day) {
		return false, nil
	}
	g.last = day
	return true, nil
}

// Release implements Gate.
func (g *MemoryGate) Release(_ context.Context, day time.Time) error {
	day = DateOf(day)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.Equal(day) {
		g.last = time.Time{}
	}
	return nil
}

const defaultGateTTL = 48 * time.Hour

// RedisGate shares the per-date marker across processes, so the API and the
// worker never sweep the same date twice.
type RedisGate struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGate builds a redis backed gate.
func NewRedisGate(client *redis.Client) *RedisGate {
	return &RedisGate{client: client, ttl: defaultGateTTL}
}

func (g *RedisGate) key(day time.Time) string {
	return shared.AccrualSweepKey(DateOf(day).Format(time.DateOnly))
}

// TryAcquire implements Gate.
func (g *RedisGate) TryAcquire(ctx context.Context, day time.Time) (bool, error) {
	return g.client.SetNX(ctx, g.key(day), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
}

// Release implements Gate.
func (g *RedisGate) Release(ctx context.Context, day time.Time) error {
	return g.client.Del(ctx, g.key(day)).Err()
}
