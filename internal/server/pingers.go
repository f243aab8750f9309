package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/provider"
)

// LLMPinger probes the chat backend. It satisfies the Pinger interface and is
// used by GET /ready.
type LLMPinger struct {
	// model is probed with a single-token generate when no health check exists.
	model model.BaseChatModel
	// healthCheck is the zero-cost probe; nil for backends without one.
	healthCheck provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
// hc may be nil.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthChecker, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness. When a HealthChecker is
// available it is used exclusively; otherwise it falls back to a single
// Generate call, which consumes tokens.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return fmt.Errorf("%s: no model to probe", p.name)
	}

	logging.FromContext(ctx).Debug("pinger: generate-based health check, tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// pingable is any dependency with its own reachability probe:
// *rag.QdrantStore and *tabular.Store both qualify.
type pingable interface {
	Ping(ctx context.Context) error
}

// StorePinger adapts a storage dependency to the Pinger interface.
type StorePinger struct {
	// store is probed on every readiness check.
	store pingable
	// name labels the dependency (e.g. "qdrant", "sqlite").
	name string
}

// NewStorePinger constructs a StorePinger labelled name.
func NewStorePinger(name string, store pingable) *StorePinger {
	return &StorePinger{store: store, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return p.name }

// Ping delegates to the store's own probe.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", p.name, err)
	}
	return nil
}
