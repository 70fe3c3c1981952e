package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type ipWindow struct {
	startedAt time.Time
	hits      int
}

// LoginRateLimiter throttles login traffic per client IP with a fixed
// window counter. It sits in front of the login handler and is independent
// of the per-username attempt guard.
type LoginRateLimiter struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	windows   map[string]*ipWindow
	maxMemory int
	now       func() time.Time
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		maxHits:   maxHits,
		window:    window,
		windows:   make(map[string]*ipWindow),
		maxMemory: 5000,
		now:       time.Now,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(clientIP(r), l.now().UTC())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[ip]
	if !ok || now.Sub(current.startedAt) >= l.window {
		l.windows[ip] = &ipWindow{startedAt: now, hits: 1}
		if len(l.windows) > l.maxMemory {
			threshold := now.Add(-l.window)
			for key, value := range l.windows {
				if value.startedAt.Before(threshold) {
					delete(l.windows, key)
				}
			}
		}
		return true, 0
	}

	if current.hits >= l.maxHits {
		retryAfter := current.startedAt.Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	current.hits++
	return true, 0
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
