package server

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/docchat-go/internal/logging"
)

// Per-client token bucket defaults for the upload and query routes. Uploads
// embed synchronously, so a client sustaining more than a few per second is
// almost certainly scripted.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

// A client bucket idle for clientIdleTTL is dropped on the next sweep.
const (
	clientIdleTTL = 5 * time.Minute
	sweepInterval = time.Minute
)

// client is one remote address's bucket.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles the expensive document routes per remote IP.
type rateLimiter struct {
	// mu guards clients.
	mu      sync.Mutex
	clients map[string]*client

	limit rate.Limit
	burst int

	// rejected counts 429 responses; nil in unit tests.
	rejected prometheus.Counter
	log      *slog.Logger
}

// newRateLimiter starts a limiter and its idle-client sweeper. The returned
// stop function ends the sweeper and must be called once.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				rl.sweep(now)
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// bucket returns the limiter for ip, creating it on first sight.
func (rl *rateLimiter) bucket(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// sweep drops clients idle since before now-clientIdleTTL and returns how
// many were removed.
func (rl *rateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-clientIdleTTL)
	removed := 0
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.log.Debug("rate limiter: swept idle clients",
			slog.Int("removed", removed),
			slog.Int("remaining", len(rl.clients)),
		)
	}
	return removed
}

// middleware rejects over-limit requests with 429, a Retry-After header
// derived from the bucket's refill time, and the JSON error envelope.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ip := clientIP(r)

		res := rl.bucket(ip, now).ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			next.ServeHTTP(w, r)
			return
		}
		res.CancelAt(now)

		retry := retryAfter(delay)
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
			slog.Int("retry_after_s", retry),
		)
		if rl.rejected != nil {
			rl.rejected.Inc()
		}

		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(r.Context(), w, http.StatusTooManyRequests, errorResponse{
			Status:  "error",
			Message: "Rate limit exceeded",
			Detail:  fmt.Sprintf("retry after %ds", retry),
		})
	})
}

// retryAfter rounds a refill delay up to whole seconds, minimum one. A
// bucket that can never refill reports one hour.
func retryAfter(d time.Duration) int {
	if d == rate.InfDuration || d > time.Hour {
		return int(time.Hour / time.Second)
	}
	return max(1, int(math.Ceil(d.Seconds())))
}

// clientIP is the remote host without its port. X-Forwarded-For is ignored:
// the server binds to localhost by default and sits behind no trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
