package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"classroom-api/internal/observability"
)

// LoginThrottle is an in-memory sliding-window limiter for the login
// endpoint, keyed by client IP. It keeps brute-force pressure off the
// per-account lockout counter.
type LoginThrottle struct {
	mu         sync.Mutex
	maxHits    int
	window     time.Duration
	hitsByIP   map[string][]time.Time
	maxTracked int
}

func NewLoginThrottle(maxHits int, window time.Duration) *LoginThrottle {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginThrottle{
		maxHits:    maxHits,
		window:     window,
		hitsByIP:   make(map[string][]time.Time),
		maxTracked: 5000,
	}
}

func (t *LoginThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := t.allow(observability.ClientIP(r), time.Now().UTC())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (t *LoginThrottle) allow(ip string, now time.Time) (bool, time.Duration) {
	threshold := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.hitsByIP[ip][:0]
	for _, hit := range t.hitsByIP[ip] {
		if hit.After(threshold) {
			recent = append(recent, hit)
		}
	}

	if len(recent) >= t.maxHits {
		t.hitsByIP[ip] = recent
		retryAfter := recent[0].Add(t.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	t.hitsByIP[ip] = append(recent, now)

	if len(t.hitsByIP) > t.maxTracked {
		t.pruneLocked(threshold)
	}

	return true, 0
}

// Prune drops IPs whose whole window has passed and reports how many were
// removed. Called by the maintenance cleanup endpoint.
func (t *LoginThrottle) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(now.Add(-t.window))
}

func (t *LoginThrottle) pruneLocked(threshold time.Time) int {
	removed := 0
	for ip, hits := range t.hitsByIP {
		if len(hits) == 0 || hits[len(hits)-1].Before(threshold) {
			delete(t.hitsByIP, ip)
			removed++
		}
	}
	return removed
}
