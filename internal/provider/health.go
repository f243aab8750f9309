package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultOpenAIBaseURL is used for health checks when OPENAI_BASE_URL is unset.
const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// HealthChecker probes a backend without generating tokens.
type HealthChecker interface {
	// HealthCheck returns nil when the backend answered a listing request.
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues one GET and expects a 2xx response.
type httpHealthCheck struct {
	// url is the listing endpoint.
	url string
	// header carries the credential, if any.
	header http.Header
	// client performs the request.
	client *http.Client
}

// NewHealthCheck returns a zero-cost checker for cfg's backend, or nil when
// the backend has no cheap listing endpoint (Bedrock, Gemini). Callers fall
// back to a single-token generate in that case.
func NewHealthCheck(cfg *Config) HealthChecker {
	hc := &httpHealthCheck{header: http.Header{}, client: &http.Client{Timeout: 10 * time.Second}}
	switch cfg.Backend {
	case BackendOllama:
		hc.url = strings.TrimRight(cfg.BaseURL, "/") + "/api/tags"
	case BackendOpenAI:
		base := cfg.BaseURL
		if base == "" {
			base = defaultOpenAIBaseURL
		}
		hc.url = strings.TrimRight(base, "/") + "/models"
		hc.header.Set("Authorization", "Bearer "+cfg.APIKey)
	case BackendAzure:
		hc.url = strings.TrimRight(cfg.BaseURL, "/") + "/openai/models?api-version=" + url.QueryEscape(cfg.APIVersion)
		hc.header.Set("api-key", cfg.APIKey)
	default:
		return nil
	}
	return hc
}

// HealthCheck implements HealthChecker.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	req.Header = h.header.Clone()
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check: unexpected status %d", resp.StatusCode)
	}
	return nil
}
