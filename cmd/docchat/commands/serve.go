package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/server"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// startupProbeTimeout bounds the dependency check run before listening.
const startupProbeTimeout = 10 * time.Second

// NewServeCmd constructs the `docchat serve` command, which starts the HTTP
// API over the document dispatcher.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docchat HTTP API",
		Long: `Start the docchat HTTP API.

Routes:
  POST   /upload          multipart upload (field "file")
  POST   /upload/url      {"url": "https://..."}
  GET    /upload/files    list uploaded files and URLs
  POST   /query           {"question", "selected_file", "session_id"}
  DELETE /query/memory    ?selected_file=&session_id=
  GET    /health, /ready, /metrics

Set DOCCHAT_API_KEY to require a Bearer token on document routes.

Examples:
  docchat serve
  docchat serve --port 9090
  VECTOR_BACKEND=qdrant MODEL_PROVIDER=openai docchat serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Langfuse tracing is opt-in and a no-op without keys.
			flush := tracing.Setup(log)
			defer flush()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			a, err := buildApp(ctx, log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.close(log)

			pingers := buildPingers(a)
			probeDependencies(ctx, log, pingers)

			if !cmd.Flags().Changed("host") {
				host = config.String("DOCCHAT_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = config.Int("DOCCHAT_PORT", port)
			}

			srv, err := server.New(a.svc, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				APIKey:          config.String("DOCCHAT_API_KEY", ""),
				RateLimit:       float64(config.Float32("DOCCHAT_RATE_LIMIT_RPS", 0)),
				RateBurst:       config.Int("DOCCHAT_RATE_LIMIT_BURST", 0),
				QueryTimeout:    config.Duration("DOCCHAT_QUERY_TIMEOUT", 0),
				MaxUploadBytes:  int64(config.Int("DOCCHAT_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: DOCCHAT_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (env: DOCCHAT_PORT)")

	return cmd
}

// buildPingers returns the readiness probes for the wired dependencies:
// the chat backend, the SQLite table store and, when selected, Qdrant.
func buildPingers(a *app) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(a.chatModel, provider.NewHealthCheck(a.providerCfg), string(a.providerCfg.Backend)),
		server.NewStorePinger("sqlite", a.tables),
	}
	if a.qdrant != nil {
		pingers = append(pingers, server.NewStorePinger("qdrant", a.qdrant))
	}
	return pingers
}

// probeDependencies logs the startup reachability of every dependency. An
// unreachable dependency is not fatal; /ready keeps reporting it.
func probeDependencies(ctx context.Context, log *slog.Logger, pingers []server.Pinger) {
	probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()
	if err := server.NewMultiPinger(pingers...).Ping(probeCtx); err != nil {
		log.Warn("startup dependency check failed", slog.Any("error", err))
		return
	}
	log.Info("startup dependency check passed", slog.Int("dependencies", len(pingers)))
}
