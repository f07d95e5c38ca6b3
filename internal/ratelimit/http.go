package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPLimiter throttles inbound HTTP requests per remote address, adapted
// directly from the teacher's IPRateLimiter: one token bucket per visitor,
// stored in a sync.Map-style map guarded by a mutex, periodically wiped
// rather than LRU-evicted.
type IPLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	ips   map[string]*rate.Limiter
}

func NewIPLimiter(rps rate.Limit, burst int) *IPLimiter {
	l := &IPLimiter{limit: rps, burst: burst, ips: make(map[string]*rate.Limiter)}
	go l.cleanupLoop()
	return l
}

func (l *IPLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.ips[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.ips[ip] = lim
	}
	return lim
}

func (l *IPLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		l.ips = make(map[string]*rate.Limiter)
		l.mu.Unlock()
	}
}

// Middleware rejects requests from an IP exceeding its bucket with 429.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !l.get(ip).Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
