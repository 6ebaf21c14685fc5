package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window and key.
	Max    int
	Window time.Duration
	// KeyFunc picks the bucket for a request. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

// window approximates a sliding window from two fixed windows: the previous
// count is weighted by how much of it still overlaps.
type window struct {
	start     time.Time
	curr      float64
	prev      float64
	prevStart time.Time
}

type limiter struct {
	max     int
	size    time.Duration
	keyFunc func(*http.Request) string

	mu      sync.Mutex
	buckets map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &limiter{
		max:     cfg.Max,
		size:    cfg.Window,
		keyFunc: cfg.KeyFunc,
		buckets: make(map[string]*window),
	}
}

// take consumes one request for key if the limit allows it.
func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.buckets[key]
	if !found {
		w = &window{start: now}
		l.buckets[key] = w
	}
	if now.Sub(w.start) >= l.size {
		w.prev, w.prevStart = w.curr, w.start
		w.curr, w.start = 0, now.Truncate(l.size)
		if now.Sub(w.prevStart) >= 2*l.size {
			w.prev = 0
		}
	}

	overlap := max(0, 1-now.Sub(w.start).Seconds()/l.size.Seconds())
	used := w.prev*overlap + w.curr
	reset = w.start.Add(l.size)
	if used >= float64(l.max) {
		return 0, reset, false
	}
	w.curr++
	return max(0, l.max-int(math.Ceil(used+1))), reset, true
}

// sweep drops buckets idle for two windows.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.buckets {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.buckets, key)
		}
	}
}

// RateLimit rejects requests over the limit with 429 and reports the limit in
// X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine, stopped with ctx, that
// evicts idle buckets.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * l.size)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, reset, ok := l.take(l.keyFunc(r), time.Now())

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			wait := max(0, time.Until(reset))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded", "try_again")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
