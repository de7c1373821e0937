package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "rentdesk:dashboard:version"

// DashboardCache keeps rendered dashboards in Redis under a version that is
// bumped on every ledger write. Concurrent misses for the same key share one
// build.
type DashboardCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewDashboardCache instantiates the cache. A nil client disables caching.
func NewDashboardCache(client *redis.Client, ttl time.Duration) *DashboardCache {
	return &DashboardCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *DashboardCache) Version(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	return ver, err
}

func (c *DashboardCache) key(ctx context.Context, day time.Time) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{"rentdesk", "dashboard", DateOf(day).Format(time.DateOnly), strconv.FormatInt(ver, 10)}, ":"), nil
}

// Get returns the cached dashboard for day or builds and stores it.
func (c *DashboardCache) Get(ctx context.Context, day time.Time, build func(context.Context) (Dashboard, error)) (Dashboard, error) {
	if c == nil || c.client == nil {
		return build(ctx)
	}
	key, err := c.key(ctx, day)
	if err != nil {
		return Dashboard{}, err
	}
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), key, build)
	})
	select {
	case <-ctx.Done():
		return Dashboard{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Dashboard{}, res.Err
		}
		return res.Val.(Dashboard), nil
	}
}

func (c *DashboardCache) fetch(ctx context.Context, key string, build func(context.Context) (Dashboard, error)) (Dashboard, error) {
	var out Dashboard
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if err := json.Unmarshal(payload, &out); err == nil {
			return out, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Dashboard{}, err
	}
	out, err = build(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return Dashboard{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

// Invalidate bumps the version so every process rebuilds on next read.
func (c *DashboardCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
