package middleware

import (
	"booklend/internal/config"
	"booklend/internal/domain/identity"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	rateLimitWindow   = 1 * time.Second
	limiterIdleSweep  = 10 * time.Minute
	unknownClientKey  = "unknown"
	rateLimitKeySpace = "booklend:ratelimit:"
)

// RateLimiterMiddleware counts requests per caller in a shared Redis window. Without Redis,
// or while Redis is unreachable, each instance falls back to an in-process token bucket.
type RateLimiterMiddleware struct {
	redisClient *redis.Client
	limiters    sync.Map
	cfg         config.RateLimitConfig
	logger      *slog.Logger
	window      time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewRateLimiterMiddleware(cfg config.RateLimitConfig, redisClient *redis.Client, logger *slog.Logger) *RateLimiterMiddleware {
	logger = logger.With("component", "RateLimiter")

	switch {
	case !cfg.Enabled:
		logger.Info("Rate limiting is disabled via configuration.")
	case redisClient == nil:
		logger.Info("Rate limiter using in-process token buckets", "rps", cfg.RPS, "burst", cfg.Burst)
	default:
		logger.Info("Rate limiter using Redis window counter", "rps", cfg.RPS, "window", rateLimitWindow)
	}

	rl := &RateLimiterMiddleware{
		redisClient: redisClient,
		cfg:         cfg,
		logger:      logger,
		window:      rateLimitWindow,
		stop:        make(chan struct{}),
	}
	if cfg.Enabled {
		go rl.cleanupLimiters()
	}
	return rl
}

func (rl *RateLimiterMiddleware) IsEnabled() bool {
	return rl.cfg.Enabled && rl.cfg.RPS > 0
}

// Stop ends the idle limiter sweep.
func (rl *RateLimiterMiddleware) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	if !rl.IsEnabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.clientKey(r)
		if key == unknownClientKey {
			rl.logger.ErrorContext(r.Context(), "Blocking request due to unknown client for rate limiting")
			writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden")
			return
		}

		allowed := rl.allow(r.Context(), key)
		if !allowed {
			rl.logger.WarnContext(r.Context(), "Rate limit exceeded", "client", key, "limit", rl.cfg.RPS)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rl.window.Seconds()))
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED",
				fmt.Sprintf("Rate limit exceeded. Limit is %v requests per %v.", rl.cfg.RPS, rl.window))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiterMiddleware) allow(ctx context.Context, key string) bool {
	if rl.redisClient != nil {
		allowed, err := rl.allowShared(ctx, key)
		if err == nil {
			return allowed
		}
		rl.logger.ErrorContext(ctx, "Redis rate limit check failed, using local limiter", "error", err, "client", key)
	}
	return rl.getLimiter(key).Allow()
}

func (rl *RateLimiterMiddleware) allowShared(ctx context.Context, key string) (bool, error) {
	redisKey := rateLimitKeySpace + key

	pipe := rl.redisClient.Pipeline()
	incrCmd := pipe.Incr(ctx, redisKey)
	ttlCmd := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	currentCount, err := incrCmd.Result()
	if err != nil {
		return false, err
	}
	if ttl, err := ttlCmd.Result(); err != nil || ttl < 0 {
		if err := rl.redisClient.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			rl.logger.ErrorContext(ctx, "Failed to set Redis EXPIRE for rate limit key", "error", err, "key", redisKey)
		}
	}

	return currentCount <= int64(rl.cfg.RPS)+int64(rl.cfg.Burst), nil
}

func (rl *RateLimiterMiddleware) getLimiter(key string) *rate.Limiter {
	limiter, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(rl.cfg.RPS), max(rl.cfg.Burst, 1)))
	return limiter.(*rate.Limiter)
}

func (rl *RateLimiterMiddleware) cleanupLimiters() {
	ticker := time.NewTicker(limiterIdleSweep)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.limiters.Range(func(key, value interface{}) bool {
				limiter := value.(*rate.Limiter)
				if limiter.Tokens() >= float64(limiter.Burst()) {
					rl.limiters.Delete(key)
				}
				return true
			})
		}
	}
}

// clientKey prefers the authenticated borrower so that callers behind one NAT do not share a budget.
func (rl *RateLimiterMiddleware) clientKey(r *http.Request) string {
	if who, ok := identity.FromContext(r.Context()); ok && who.Authenticated() {
		return "borrower:" + strconv.FormatInt(who.BorrowerID, 10)
	}
	ip := rl.extractIP(r)
	if ip == unknownClientKey {
		return ip
	}
	return "ip:" + ip
}

func (rl *RateLimiterMiddleware) extractIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); xRealIP != "" && net.ParseIP(xRealIP) != nil {
		return xRealIP
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	if parsedIP := net.ParseIP(r.RemoteAddr); parsedIP != nil {
		return parsedIP.String()
	}

	rl.logger.Warn("Could not determine client IP for rate limiting", "remoteAddr", r.RemoteAddr, "x-forwarded-for", xff)
	return unknownClientKey
}
