package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimitInfo is the state of one client's bucket after a request
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// TokenBucket is an in-memory per-key limiter refilling Capacity tokens
// every Window
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	window   time.Duration
	now      func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket allows capacity requests per window for each key
func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	if window <= 0 {
		window = time.Minute
	}
	return &TokenBucket{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Allow consumes a token for key
func (tb *TokenBucket) Allow(key string) RateLimitInfo {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		refill := int(float64(tb.capacity) * elapsed.Seconds() / tb.window.Seconds())
		if refill > 0 {
			b.tokens = min(tb.capacity, b.tokens+refill)
			b.lastRefill = now
		}
	}

	info := RateLimitInfo{
		Limit:   tb.capacity,
		ResetAt: b.lastRefill.Add(tb.window),
	}
	if b.tokens > 0 {
		b.tokens--
		info.Remaining = b.tokens
		info.Allowed = true
	}
	return info
}

// Prune drops buckets idle for longer than two windows
func (tb *TokenBucket) Prune() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	threshold := 2 * tb.window
	now := tb.now()
	for key, b := range tb.buckets {
		if now.Sub(b.lastRefill) > threshold {
			delete(tb.buckets, key)
		}
	}
}

// RateLimit rejects clients that exhaust their bucket with 429. Clients are
// keyed by remote IP. A nil limiter disables the middleware.
func RateLimit(limiter *TokenBucket, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := limiter.Allow(clientIP(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !info.Allowed {
				retry := int(time.Until(info.ResetAt).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				logger.Warn("rate limit exceeded",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("client", clientIP(r)))
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"error","message":"rate limit exceeded","code":"RATE_LIMITED"}` + "\n"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
