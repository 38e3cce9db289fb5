package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tableside/internal/config"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local interval_ms = tonumber(ARGV[3])
	local ttl_seconds = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + intervals)
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// rateLimiter is a per-client token bucket kept in Redis. When Redis is
// missing or failing it falls back to an in-process limiter per client.
type rateLimiter struct {
	cfg        config.RateLimitConfig
	rdb        *redis.Client
	intervalMs int64
	ttlSeconds int64
	logger     *zerolog.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func newRateLimiter(cfg config.RateLimitConfig, rdb *redis.Client, logger *zerolog.Logger) *rateLimiter {
	interval := int64(math.Max(1, 1000/cfg.RPS))
	ttl := int64(math.Ceil(float64(cfg.Burst)/cfg.RPS)) + 1
	if ttl < 60 {
		ttl = 60
	}
	return &rateLimiter{
		cfg:        cfg,
		rdb:        rdb,
		intervalMs: interval,
		ttlSeconds: ttl,
		logger:     logger,
		local:      make(map[string]*rate.Limiter),
	}
}

func (l *rateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		client := c.RealIP()
		if client == "" {
			client = "unknown"
		}

		allowed, remaining, retry := l.allow(c, client)
		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Burst))
		if remaining >= 0 {
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		}
		if !allowed {
			secs := int(math.Ceil(retry.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

// allow reports whether client may proceed. remaining is -1 when unknown.
func (l *rateLimiter) allow(c echo.Context, client string) (bool, int64, time.Duration) {
	if l.rdb != nil {
		key := "tableside:rl:ip:" + client
		vals, err := tokenBucketScript.Run(c.Request().Context(), l.rdb, []string{key},
			time.Now().UnixMilli(), l.cfg.Burst, l.intervalMs, l.ttlSeconds,
		).Int64Slice()
		if err == nil && len(vals) == 3 {
			return vals[0] == 1, vals[1], time.Duration(vals[2]) * time.Millisecond
		}
		l.logger.Debug().Err(err).Str("key", key).Msg("redis rate limit unavailable, using local limiter")
	}

	lim := l.localFor(client)
	if lim.Allow() {
		return true, -1, 0
	}
	return false, -1, time.Duration(float64(time.Second) / l.cfg.RPS)
}

func (l *rateLimiter) localFor(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.local[client]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)
		l.local[client] = lim
	}
	return lim
}

// concurrencyLimit bounds in-flight requests to n.
func concurrencyLimit(n int) echo.MiddlewareFunc {
	sem := make(chan struct{}, n)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				return next(c)
			case <-c.Request().Context().Done():
				return echo.NewHTTPError(http.StatusServiceUnavailable, "server busy")
			}
		}
	}
}
