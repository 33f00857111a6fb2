package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/observability"
)

// ThrottleConfig limits login attempts per client address
type ThrottleConfig struct {
	// Attempts is the number of logins allowed per window
	Attempts int
	// Window is the fixed window length, starting at the first attempt
	Window time.Duration
	// MaxClients bounds the in-memory limiter
	MaxClients int
}

// DefaultThrottleConfig returns the default login throttle settings
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Attempts:   10,
		Window:     time.Minute,
		MaxClients: 10000,
	}
}

// Limiter counts attempts per key
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// LocalLimiter counts attempts in a bounded in-process LRU
type LocalLimiter struct {
	config ThrottleConfig
	mu     sync.Mutex
	counts *expirable.LRU[string, *int]
}

// NewLocalLimiter creates an in-memory limiter
func NewLocalLimiter(config ThrottleConfig) *LocalLimiter {
	if config.MaxClients <= 0 {
		config.MaxClients = DefaultThrottleConfig().MaxClients
	}
	return &LocalLimiter{
		config: config,
		counts: expirable.NewLRU[string, *int](config.MaxClients, nil, config.Window),
	}
}

// Allow implements Limiter
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.counts.Get(key)
	if !ok {
		first := 1
		l.counts.Add(key, &first)
		return first <= l.config.Attempts, nil
	}
	*n++
	return *n <= l.config.Attempts, nil
}

// Window implements Limiter
func (l *LocalLimiter) Window() time.Duration {
	return l.config.Window
}

// RedisLimiter shares attempt counts across instances
type RedisLimiter struct {
	redis  *redis.Client
	config ThrottleConfig
	prefix string
}

// NewRedisLimiter creates a redis-backed limiter
func NewRedisLimiter(client *redis.Client, config ThrottleConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "padron:login"
	}
	return &RedisLimiter{
		redis:  client,
		config: config,
		prefix: prefix,
	}
}

// Allow implements Limiter. The window's TTL is set with the first
// increment in one MULTI so a counter never outlives it. On redis errors the
// attempt is allowed and the error returned.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, redisKey, 0, l.config.Window)
		incr = pipe.Incr(ctx, redisKey)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	return incr.Val() <= int64(l.config.Attempts), nil
}

// Window implements Limiter
func (l *RedisLimiter) Window() time.Duration {
	return l.config.Window
}

// LoginThrottle rejects login attempts over the limiter's budget with 429.
// Attempts are keyed by client address; forwarding headers count only from
// proxies.
func LoginThrottle(limiter Limiter, proxies httputil.TrustedProxies, logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := proxies.ClientIP(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).Warn("Login throttle unavailable, allowing attempt")
			}
			if !allowed {
				metrics.RecordLoginAttempt("throttled")
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
				httputil.WriteTooManyRequests(w, "too many login attempts")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
