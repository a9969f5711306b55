package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/muatool/dashboard/internal/httputil"
)

const limiterIdle = 10 * time.Minute

// RateLimiter throttles requests per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*visitor
	swept   time.Time
	now     func() time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter allows perSecond requests per client with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	l := rate.Limit(perSecond)
	if perSecond <= 0 {
		l = rate.Inf
	}
	return &RateLimiter{
		limit:   l,
		burst:   burst,
		clients: make(map[string]*visitor),
		now:     time.Now,
	}
}

// Allow reports whether the client at addr may proceed.
func (rl *RateLimiter) Allow(addr string) bool {
	if rl.limit == rate.Inf {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.swept) > limiterIdle {
		for k, v := range rl.clients {
			if now.Sub(v.seen) > limiterIdle {
				delete(rl.clients, k)
			}
		}
		rl.swept = now
	}

	v, ok := rl.clients[addr]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[addr] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

// Middleware rejects throttled requests with 429.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientAddr(r)) {
				w.Header().Set("Retry-After", "1")
				httputil.ErrorWithCode(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
