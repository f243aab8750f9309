package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/docchat-go/internal/logging"
)

// probeTimeout bounds each dependency probe so /ready answers promptly when
// a backend hangs.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability: the chat
// backend, the SQLite table store or Qdrant. Implementations must be safe
// for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses.
	Name() string
}

// MultiPinger probes several dependencies as one; serve uses it for the
// startup check.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger over pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping probes every dependency concurrently and joins the failures, each
// prefixed with its dependency name.
func (m *MultiPinger) Ping(ctx context.Context) error {
	var errs []error
	for _, c := range probeAll(ctx, m.pingers) {
		if c.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, c.err))
		}
	}
	return errors.Join(errs...)
}

// Name returns a combined label for logging purposes.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck is one dependency's readiness result.
type readyCheck struct {
	// Name is the dependency label (e.g. "ollama", "sqlite").
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Error is the failure reason when OK is false.
	Error string `json:"error,omitempty"`
	// LatencyMS is how long the probe took.
	LatencyMS int64 `json:"latency_ms"`

	err error
}

// readyResponse is the JSON body returned by GET /ready.
type readyResponse struct {
	// Ready is true only when every dependency probe succeeded.
	Ready bool `json:"ready"`
	// Checks holds one entry per dependency, in registration order.
	Checks []readyCheck `json:"checks"`
}

// probeAll runs every pinger concurrently, each under probeTimeout, and
// returns the results in pinger order.
func probeAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(probeCtx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
				err:       err,
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()
	return checks
}

// handleReady handles GET /ready. It answers 200 when every dependency is
// reachable and 503 otherwise; /health, by contrast, only reports liveness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := readyResponse{Ready: true, Checks: probeAll(ctx, s.pingers)}

	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		logging.FromContext(ctx).Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.Int64("latency_ms", c.LatencyMS),
			slog.Any("error", c.err),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(ctx, w, status, resp)
}
