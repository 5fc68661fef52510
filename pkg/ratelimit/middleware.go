package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"habitat/pkg/errors"
	"habitat/pkg/metrics"
)

var ErrRateLimited = errors.NewError("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)

type Config struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// withDefaults fills zero durations and a zero burst, which rate.Limiter
// would treat as "reject everything".
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per uploading address. Receivers behind
// the same address share a bucket.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*client
}

// New starts the idle-bucket sweeper, which runs until ctx is done.
func New(ctx context.Context, cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg.withDefaults(),
		clients: make(map[string]*client),
	}
	go l.sweep(ctx)
	return l
}

func (l *Limiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evictIdle(now)
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cfg.MaxAge {
			delete(l.clients, addr)
		}
	}
}

// Allow takes a token from addr's bucket and reports what is left.
func (l *Limiter) Allow(addr string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[addr]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.clients[addr] = c
	}
	c.lastSeen = now

	allowed := c.limiter.AllowN(now, 1)
	remaining := int(math.Max(0, math.Floor(c.limiter.TokensAt(now))))
	return allowed, remaining
}

func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) Middleware() gin.HandlerFunc {
	limit := strconv.FormatFloat(l.cfg.RPS, 'f', -1, 64)

	return func(c *gin.Context) {
		addr := c.ClientIP()
		if addr == "" {
			addr = c.RemoteIP()
		}

		allowed, remaining := l.Allow(addr, time.Now())
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("Retry-After", strconv.Itoa(l.retryAfter()))
			c.AbortWithStatusJSON(ErrRateLimited.Status, errors.ToErrorResponse(ErrRateLimited))
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}

// retryAfter is the whole number of seconds until one token refills.
func (l *Limiter) retryAfter() int {
	if l.cfg.RPS <= 0 {
		return int(l.cfg.MaxAge.Seconds())
	}
	return int(math.Max(1, math.Ceil(1/l.cfg.RPS)))
}
