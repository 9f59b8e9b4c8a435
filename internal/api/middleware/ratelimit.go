package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimit defines the budget for one endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

const (
	violationThreshold = 10
	blockDuration      = 24 * time.Hour
)

// RateLimiter implements Redis-backed sliding window rate limiting with
// auto-blocking of repeat offenders. A nil limiter (or one without a
// Redis client) passes every request through; dev installs run open.
type RateLimiter struct {
	client *redis.Client
	limits map[string]RateLimit
	logger zerolog.Logger
}

// NewRateLimiter creates a rate limiter covering the gateway's
// abuse-prone endpoints: unauthenticated profile creation, free-text
// search, conversation creation and message posting.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		limits: map[string]RateLimit{
			"POST /login":          {10, time.Hour, ipKey},
			"GET /users":           {30, time.Minute, sessionKey},
			"POST /conversations/": {120, time.Minute, sessionKey},
			"POST /conversations":  {20, time.Hour, sessionKey},
		},
	}
}

// ipKey buckets by client IP.
func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + clientIP(r)
}

// sessionKey buckets by bearer token when present, IP otherwise.
func sessionKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return "ratelimit:user:" + token
	}
	return "ratelimit:ip:" + clientIP(r)
}

// clientIP extracts the client IP, trusting proxy headers first.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// findLimit matches the request against the configured patterns.
// Longest pattern wins so message posts are not caught by the
// conversation-create budget.
func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	key := r.Method + " " + r.URL.Path

	var match *RateLimit
	matchLen := 0
	for pattern, limit := range rl.limits {
		if strings.HasPrefix(key, pattern) && len(pattern) > matchLen {
			l := limit
			match = &l
			matchLen = len(pattern)
		}
	}
	return match
}

// allow records one request against the key's sliding window and
// reports whether it fits the budget.
func (rl *RateLimiter) allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		// Redis trouble must not take the API down
		rl.logger.Warn().Err(err).Msg("rate limit check failed, allowing")
		return true, limit, now.Add(window)
	}

	count := int(countCmd.Val())
	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < limit, remaining, now.Add(window)
}

// trackViolation counts limit violations per IP and blocks repeat
// offenders for a day.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	key := "violations:ip:" + ip
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	rl.client.Expire(ctx, key, time.Hour)

	if count >= violationThreshold {
		rl.client.Set(ctx, "blocked:ip:"+ip, "repeated rate limit violations", blockDuration)
		rl.logger.Warn().
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked")
	}
}

func (rl *RateLimiter) isBlocked(ctx context.Context, ip string) bool {
	exists, _ := rl.client.Exists(ctx, "blocked:ip:"+ip).Result()
	return exists > 0
}

// Middleware enforces the configured limits. Unmatched routes pass
// through untouched.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if rl.isBlocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Msg("blocked IP attempted request")
			rateLimitError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		allowed, remaining, resetAt := rl.allow(r.Context(), key, limit.Requests, limit.Window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())))
			rl.trackViolation(r.Context(), ip)
			rl.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Str("key", key).
				Msg("rate limit exceeded")
			rateLimitError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func rateLimitError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
