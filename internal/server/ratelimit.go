package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client's limiter is kept.
const staleAfter = 10 * time.Minute

// RateLimitInfo is the request quota reported back to a client.
type RateLimitInfo struct {
	RequestsLimit     int
	RequestsRemaining int
	RequestsReset     time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter is a token bucket per client address.
type ClientRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewClientRateLimiter allows rps sustained requests per second per client
// with bursts up to burst.
func NewClientRateLimiter(rps float64, burst int) *ClientRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket.
func (l *ClientRateLimiter) Allow(key string) (RateLimitInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	allowed := c.limiter.AllowN(now, 1)
	tokens := c.limiter.TokensAt(now)

	info := RateLimitInfo{
		RequestsLimit:     l.burst,
		RequestsRemaining: int(math.Max(0, math.Floor(tokens))),
	}
	if tokens < 1 && l.limit > 0 {
		info.RequestsReset = time.Duration((1 - tokens) / float64(l.limit) * float64(time.Second))
	}
	return info, allowed
}

func (l *ClientRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < staleAfter {
		return
	}
	l.lastSweep = now
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > staleAfter {
			delete(l.clients, key)
		}
	}
}

// RateLimitMiddleware rejects clients that exceed their quota with 429 and
// writes x-ratelimit-* headers on every response.
func RateLimitMiddleware(l *ClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, allowed := l.Allow(clientKey(r))
			writeRateLimitHeaders(w.Header(), info)

			if !allowed {
				retry := int(math.Ceil(info.RequestsReset.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				AddLogField(r.Context(), "rate_limited", "true")
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitHeaders(h http.Header, info RateLimitInfo) {
	h.Set("x-ratelimit-limit-requests", strconv.Itoa(info.RequestsLimit))
	h.Set("x-ratelimit-remaining-requests", strconv.Itoa(info.RequestsRemaining))
	if info.RequestsReset > 0 {
		h.Set("x-ratelimit-reset-requests", info.RequestsReset.Round(time.Millisecond).String())
	}
}

// clientKey is the remote host without its port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
