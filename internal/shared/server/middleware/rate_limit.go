package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
)

const (
	defaultRateLimitGroup = "DEFAULT"
)

// RateLimitRule is a token-bucket rule: Rate tokens per second, up to Burst.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// Limiter decides whether one more request for key fits the rule.
type Limiter interface {
	Allow(ctx context.Context, key string, rule RateLimitRule) (bool, time.Duration, error)
}

type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      Limiter
}

// RateLimit throttles each tenant (or client IP when anonymous) per route group.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = defaultRateLimitGroup
	}
	limiterName := limiterLabel(cfg.Limiter)
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}
		principal := strings.TrimSpace(TenantIDFromContext(c))
		if principal == "" {
			principal = strings.TrimSpace(c.ClientIP())
		}
		key := principal + "|" + group
		allowed, retryAfter, err := cfg.Limiter.Allow(c.Request.Context(), key, rule)
		if err != nil {
			telemetry.Warn("ratelimit.backend_error", map[string]any{
				"request_id": RequestIDFromContext(c),
				"group":      group,
				"error":      err,
			})
			allowed = true
		}
		metrics.IncRateLimit(limiterName, allowed)
		if allowed {
			c.Next()
			return
		}
		retryAfterMs := int(retryAfter / time.Millisecond)
		if retryAfterMs <= 0 {
			retryAfterMs = 1000
		}
		retryAfterSeconds := int(math.Ceil(float64(retryAfterMs) / 1000.0))
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":        "rate_limited",
			"retryAfterMs": retryAfterMs,
		})
		c.Abort()
	}
}

func limiterLabel(l Limiter) string {
	switch l.(type) {
	case *RedisRateLimiter:
		return "redis"
	default:
		return "memory"
	}
}

// RateLimiter keeps one token bucket per key in process memory.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		now:      now,
	}
}

func (l *RateLimiter) Allow(_ context.Context, key string, rule RateLimitRule) (bool, time.Duration, error) {
	if l == nil {
		return true, 0, nil
	}
	if rule.Rate <= 0 || rule.Burst <= 0 {
		return true, 0, nil
	}
	now := l.now()
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second, nil
	}
	delay := res.DelayFrom(now)
	if delay <= 0 {
		return true, 0, nil
	}
	res.CancelAt(now)
	return false, delay, nil
}

// RedisRateLimiter is a fixed-window counter shared across API replicas.
type RedisRateLimiter struct {
	Client *redis.Client
	Window time.Duration
	Prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client *redis.Client, window time.Duration) *RedisRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateLimiter{Client: client, Window: window, Prefix: "rl:", now: time.Now}
}

// Allow admits up to max(Burst, Rate*Window) requests per window.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, rule RateLimitRule) (bool, time.Duration, error) {
	if l == nil || l.Client == nil {
		return true, 0, nil
	}
	if rule.Rate <= 0 || rule.Burst <= 0 {
		return true, 0, nil
	}
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	windowSec := int64(l.Window / time.Second)
	if windowSec <= 0 {
		windowSec = 1
	}
	ts := now().Unix()
	bucket := ts / windowSec
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, key, bucket)

	cnt, err := l.Client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}
	if cnt == 1 {
		if err := l.Client.Expire(ctx, redisKey, l.Window+time.Second).Err(); err != nil {
			return false, 0, err
		}
	}

	limit := int64(math.Ceil(rule.Rate * float64(windowSec)))
	if int64(rule.Burst) > limit {
		limit = int64(rule.Burst)
	}
	if cnt <= limit {
		return true, 0, nil
	}
	remaining := (bucket+1)*windowSec - ts
	if remaining <= 0 {
		remaining = 1
	}
	return false, time.Duration(remaining) * time.Second, nil
}

// Route groups used by RouteGroup and DefaultRateLimitRules.
const (
	GroupUpload             = "upload"
	GroupChat               = "chat"
	GroupDocumentsRead      = "documents_read"
	GroupDocumentsWrite     = "documents_write"
	GroupConversationsRead  = "conversations_read"
	GroupConversationsWrite = "conversations_write"
)

func perMinute(n int) RateLimitRule {
	return RateLimitRule{Rate: float64(n) / 60.0, Burst: n}
}

// DefaultRateLimitRules are the free-tier per-minute budgets.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		GroupUpload:             perMinute(10),
		GroupChat:               perMinute(30),
		GroupDocumentsRead:      perMinute(60),
		GroupDocumentsWrite:     perMinute(10),
		GroupConversationsRead:  perMinute(60),
		GroupConversationsWrite: perMinute(20),
		defaultRateLimitGroup:   perMinute(120),
	}
}

// RouteGroup maps the matched route to its rate limit group.
func RouteGroup(c *gin.Context) string {
	path := strings.TrimPrefix(c.FullPath(), "/api/v1")
	read := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
	switch {
	case path == "/documents" && c.Request.Method == http.MethodPost:
		return GroupUpload
	case path == "/query" || path == "/chat":
		return GroupChat
	case strings.HasPrefix(path, "/documents"):
		if read {
			return GroupDocumentsRead
		}
		return GroupDocumentsWrite
	case strings.HasPrefix(path, "/conversations"):
		if read {
			return GroupConversationsRead
		}
		return GroupConversationsWrite
	}
	return defaultRateLimitGroup
}
