package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/docchat-go/internal/logging"
)

// okHandler is a trivial handler used to verify that allowed requests reach
// the downstream handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func send(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestRateLimit_AllowsUnderLimit verifies that requests within the burst
// capacity are passed through to the downstream handler.
func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 5, logging.Discard())
	defer stop()
	h := rl.middleware(okHandler)

	for i := range 5 {
		if w := send(h, http.MethodPost, "/upload", "127.0.0.1:12345"); w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

// TestRateLimit_RejectsWithEnvelope verifies that the request after the
// burst is rejected with 429, Retry-After and the JSON error body, and that
// the rejection is counted.
func TestRateLimit_RejectsWithEnvelope(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.5, 1, logging.Discard())
	defer stop()
	rl.rejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "rejected_test"})
	h := rl.middleware(okHandler)

	if w := send(h, http.MethodPost, "/query", "10.0.0.2:1234"); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := send(h, http.MethodPost, "/query", "10.0.0.2:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After: expected 2 at 0.5 rps, got %q", got)
	}

	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "error" || body.Message != "Rate limit exceeded" {
		t.Errorf("unexpected body: %+v", body)
	}
	if got := testutil.ToFloat64(rl.rejected); got != 1 {
		t.Errorf("rejected counter: expected 1, got %v", got)
	}
}

// TestRateLimit_RejectionDoesNotConsume verifies that a rejected request
// does not push the client's refill further out.
func TestRateLimit_RejectionDoesNotConsume(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.5, 1, logging.Discard())
	defer stop()
	h := rl.middleware(okHandler)

	send(h, http.MethodPost, "/query", "10.0.0.3:1")
	for range 5 {
		send(h, http.MethodPost, "/query", "10.0.0.3:1")
	}
	if got := send(h, http.MethodPost, "/query", "10.0.0.3:1").Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After after repeated rejections: expected 2, got %q", got)
	}
}

// TestRateLimit_PerIPIsolation verifies that two different IPs have
// independent token buckets.
func TestRateLimit_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, logging.Discard())
	defer stop()
	h := rl.middleware(okHandler)

	for range 5 {
		send(h, http.MethodPost, "/upload", "192.168.1.1:1111")
	}
	if w := send(h, http.MethodPost, "/upload", "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("IP B: expected 200, got %d", w.Code)
	}
}

// TestRateLimit_Sweep verifies that idle clients are dropped and active
// ones kept.
func TestRateLimit_Sweep(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, logging.Discard())
	defer stop()

	now := time.Now()
	rl.bucket("10.0.0.1", now.Add(-2*clientIdleTTL))
	rl.bucket("10.0.0.2", now)

	if got := rl.sweep(now); got != 1 {
		t.Errorf("sweep: expected 1 removed, got %d", got)
	}
	if _, ok := rl.clients["10.0.0.2"]; !ok {
		t.Error("active client was swept")
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{1500 * time.Millisecond, 2},
		{2 * time.Hour, 3600},
	}
	for _, tc := range cases {
		if got := retryAfter(tc.d); got != tc.want {
			t.Errorf("retryAfter(%v): expected %d, got %d", tc.d, tc.want, got)
		}
	}
}

// TestClientIP verifies that clientIP strips the port from RemoteAddr.
func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"noport", "noport"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}
