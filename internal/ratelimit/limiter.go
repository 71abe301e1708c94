package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// FixedWindow adapts a ulule limiter to Limiter.
type FixedWindow struct {
	L *limiter.Limiter
}

// NewRedis builds a limiter of max requests per window shared through Redis.
func NewRedis(rdb *redis.Client, prefix string, max int64, window time.Duration) (*FixedWindow, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return &FixedWindow{L: limiter.New(store, limiter.Rate{Period: window, Limit: max})}, nil
}

// NewMemory builds a process-local limiter.
func NewMemory(max int64, window time.Duration) *FixedWindow {
	return &FixedWindow{L: limiter.New(memory.NewStore(), limiter.Rate{Period: window, Limit: max})}
}

// Allow implements Limiter.
func (f *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	lctx, err := f.L.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !lctx.Reached,
		Limit:     lctx.Limit,
		Remaining: lctx.Remaining,
		ResetAt:   time.Unix(lctx.Reset, 0),
	}, nil
}
