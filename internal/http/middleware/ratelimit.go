package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	bucketIdleTTL  = 10 * time.Minute
	bucketSweepGap = 5 * time.Minute
)

// RateLimiter is a token-bucket limiter keyed per client. Idle buckets are
// swept inline during Allow, so the limiter carries no background goroutine.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*refillBucket
	rate      float64
	burst     float64
	lastSweep time.Time
	now       func() time.Time
}

type refillBucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter allows rate requests/sec with the given burst per client key.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*refillBucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow reports whether the client identified by key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, ok := rl.clients[key]
	if !ok {
		b = &refillBucket{tokens: rl.burst}
		rl.clients[key] = b
	} else {
		b.tokens += now.Sub(b.seen).Seconds() * rl.rate
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < bucketSweepGap {
		return
	}
	rl.lastSweep = now
	for key, b := range rl.clients {
		if now.Sub(b.seen) > bucketIdleTTL {
			delete(rl.clients, key)
		}
	}
}

// limitKey identifies the caller. The app session header wins over the peer
// address: mobile clients sit behind carrier NATs, and a shared address must
// not pool distinct sessions into one bucket on the analyze surface.
func limitKey(r *http.Request) string {
	if sid := r.Header.Get("X-Session-Id"); sid != "" {
		return "session:" + sid
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return "addr:" + xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}

// RateLimit rejects clients above rate requests/sec with 429 Too Many
// Requests and a Retry-After hint.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(limitKey(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
