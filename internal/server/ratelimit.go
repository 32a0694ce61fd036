package server

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"streamhub/internal/chat"
)

const loginKeyPrefix = "streamhub:login:"

// RateLimitConfig tunes the global request limiter and the per-client login
// limiter. A zero LoginLimit disables login throttling. When RedisAddr is
// set, login attempts are counted in Redis so every instance shares them.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	LoginLimit  int
	LoginWindow time.Duration

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisTimeout  time.Duration
	RedisTLS      chat.RedisTLSConfig

	// TrustForwardedHeaders honours X-Forwarded-For and X-Real-IP from any
	// peer. TrustedProxies limits that to peers inside the listed CIDRs.
	TrustForwardedHeaders bool
	TrustedProxies        []string
}

// loginStore counts attempts per key inside a fixed window.
type loginStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}

type rateLimiter struct {
	global       *rate.Limiter
	loginLimit   int
	loginWindow  time.Duration
	loginMu      sync.Mutex
	loginBuckets map[string]*ipLimiter
	store        loginStore
	now          func() time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		loginLimit:   cfg.LoginLimit,
		loginWindow:  cfg.LoginWindow,
		loginBuckets: make(map[string]*ipLimiter),
		now:          time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.GlobalRPS))
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.loginLimit < 0 {
		rl.loginLimit = 0
	}
	if rl.loginWindow <= 0 {
		rl.loginWindow = time.Minute
	}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" && rl.loginLimit > 0 {
		store, err := newRedisStore(redisStoreConfig{
			Addr:     addr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			Timeout:  cfg.RedisTimeout,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("login rate limit store: %w", err)
		}
		rl.store = store
	}
	return rl, nil
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowLogin reports whether key may attempt another login and, if not, how
// long it should wait.
func (r *rateLimiter) AllowLogin(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.loginLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, loginKeyPrefix+key, r.loginLimit, r.loginWindow)
	}

	now := r.now()
	r.loginMu.Lock()
	bucket, exists := r.loginBuckets[key]
	if !exists {
		every := r.loginWindow / time.Duration(r.loginLimit)
		bucket = &ipLimiter{limiter: rate.NewLimiter(rate.Every(every), r.loginLimit)}
		r.loginBuckets[key] = bucket
	}
	bucket.lastSeen = now
	r.cleanupLocked(now)
	r.loginMu.Unlock()

	reservation := bucket.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, r.loginWindow, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	if len(r.loginBuckets) == 0 {
		return
	}
	cutoff := now.Add(-2 * r.loginWindow)
	for key, bucket := range r.loginBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.loginBuckets, key)
		}
	}
}

func (r *rateLimiter) Ping(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

func (r *rateLimiter) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}
