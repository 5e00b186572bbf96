package karma

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Cooldown decides whether a reaction vote identified by key may be recorded now.
type Cooldown interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisCooldown claims a key with SET NX EX; the vote is allowed only when the claim succeeds.
type RedisCooldown struct {
	client *redis.Client
	prefix string
	window time.Duration
}

func NewRedisCooldown(client *redis.Client, prefix string, window time.Duration) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: prefix, window: window}
}

func (c *RedisCooldown) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+":cooldown:"+key, 1, c.window).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown claim: %w", err)
	}
	return ok, nil
}

type cooldownEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryCooldown keeps one single-token bucket per key, refilled once per window.
// Buckets idle for longer than the window are full again and get evicted.
type MemoryCooldown struct {
	mu       sync.Mutex
	window   time.Duration
	limiters map[string]*cooldownEntry
	now      func() time.Time
}

func NewMemoryCooldown(window time.Duration) *MemoryCooldown {
	return &MemoryCooldown{
		window:   window,
		limiters: make(map[string]*cooldownEntry),
		now:      time.Now,
	}
}

func (c *MemoryCooldown) Allow(ctx context.Context, key string) (bool, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.limiters[key]
	if !ok {
		entry = &cooldownEntry{lim: rate.NewLimiter(rate.Every(c.window), 1)}
		c.limiters[key] = entry
	}
	entry.lastSeen = now

	if len(c.limiters) > 1024 {
		for k, e := range c.limiters {
			if now.Sub(e.lastSeen) > c.window {
				delete(c.limiters, k)
			}
		}
	}

	return entry.lim.AllowN(now, 1), nil
}
