package logstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const rateLimiterSweepInterval = 5 * time.Minute

// RateLimiter decides whether a deployment may push another batch.
type RateLimiter interface {
	Allow(ctx context.Context, key string) rateDecision
	Limit() int
	Close()
}

type rateDecision struct {
	allowed   bool
	remaining int
	wait      time.Duration
}

// memoryRateLimiter keeps one token bucket per key. A bucket holds burst
// tokens and regains one every refresh interval.
type memoryRateLimiter struct {
	refresh time.Duration
	burst   int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*bucket
	stopCh  chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryRateLimiter returns an in-process limiter.
func NewMemoryRateLimiter(refresh time.Duration, burst int) RateLimiter {
	rl := newMemoryRateLimiter(refresh, burst, time.Now)
	go rl.sweepLoop()
	return rl
}

func newMemoryRateLimiter(refresh time.Duration, burst int, now func() time.Time) *memoryRateLimiter {
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}
	if burst <= 0 {
		burst = 1
	}
	return &memoryRateLimiter{
		refresh: refresh,
		burst:   burst,
		now:     now,
		entries: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string) rateDecision {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.entries[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(rl.refresh), rl.burst)}
		rl.entries[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return rateDecision{allowed: false, wait: rl.refresh}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return rateDecision{allowed: false, wait: delay}
	}
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return rateDecision{allowed: true, remaining: remaining}
}

func (rl *memoryRateLimiter) Limit() int {
	return rl.burst
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.entries {
		if now.Sub(b.lastSeen) > rateLimiterSweepInterval {
			delete(rl.entries, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}

// redisRateLimiter shares a fixed window across log store replicas. The
// window spans burst refresh intervals so the long-run rate matches the
// in-memory bucket.
type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	limit   int
	window  time.Duration
	timeout time.Duration
}

// NewRedisRateLimiter constructs a Redis backed rate limiter.
func NewRedisRateLimiter(addr, password string, db int, refresh time.Duration, burst int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if burst <= 0 {
		burst = 1
	}
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "peep:logstore:ratelimit:",
		limit:   burst,
		window:  refresh * time.Duration(burst),
		timeout: 250 * time.Millisecond,
	}, nil
}

func (rl *redisRateLimiter) Allow(ctx context.Context, key string) rateDecision {
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logRedisError("incr", err)
		return rateDecision{allowed: true}
	}
	if counter == 1 {
		if err := rl.client.PExpire(ctx, redisKey, rl.window).Err(); err != nil {
			rl.logRedisError("pexpire", err)
		}
	}
	ttl, err := rl.client.PTTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = rl.window
	}
	if int(counter) > rl.limit {
		return rateDecision{allowed: false, wait: ttl}
	}
	return rateDecision{allowed: true, remaining: rl.limit - int(counter)}
}

func (rl *redisRateLimiter) Limit() int {
	return rl.limit
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) logRedisError(op string, err error) {
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}
