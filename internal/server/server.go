// Package server exposes the document dispatcher over a small REST API:
// uploads, questions, conversation memory, health, readiness and metrics.
// The server is started by the `docchat serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/dispatcher"
	"github.com/54b3r/docchat-go/internal/logging"
)

// maxJSONBytes caps JSON request bodies.
const maxJSONBytes = 1 << 20

// New constructs a Server around the dispatcher and config.
func New(svc *dispatcher.Service, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: dispatcher must not be nil")
	}
	return newServer(svc, cfg), nil
}

// newServer applies config defaults and builds the mux around docs.
func newServer(docs documents, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Uploads embed synchronously before the response is written.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 5 * time.Minute
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		docs:     docs,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: DOCCHAT_API_KEY not set, authentication disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	rl.rejected = s.metrics.rateLimitedTotal
	s.stopRL = stop

	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.metrics.instrument(name, authMiddleware(cfg.APIKey, h))
	}
	limited := func(name string, h http.HandlerFunc) http.Handler {
		return s.metrics.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /upload", limited("upload", s.handleUpload))
	mux.Handle("POST /upload/url", limited("upload_url", s.handleUploadURL))
	mux.Handle("GET /upload/files", protected("upload_files", s.handleListFiles))
	mux.Handle("POST /query", limited("query", s.handleQuery))
	mux.Handle("DELETE /query/memory", protected("query_memory", s.handleClearMemory))
	mux.Handle("GET /health", s.metrics.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /ready", s.metrics.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleHealth handles GET /health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "docchat is running",
	})
}

// decodeJSON reads a size-capped JSON body into v and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Precondition("server.decode", "invalid request body: %v", err)
	}
	return s.check(v)
}

// check validates v against its struct tags.
func (s *Server) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return apperr.Precondition("server.validate", "field %s failed %q validation", f.Field(), f.Tag())
		}
		return apperr.Precondition("server.validate", "%v", err)
	}
	return nil
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrPrecondition), errors.Is(err, apperr.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes the error envelope.
func writeError(ctx context.Context, w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	log := logging.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		log.Error(message, slog.Any("error", err))
	} else {
		log.Warn(message, slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(ctx, w, status, errorResponse{Status: "error", Message: message, Detail: err.Error()})
}

// writeJSON writes v with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}
