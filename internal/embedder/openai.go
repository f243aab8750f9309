package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenAIEmbedder calls the OpenAI embeddings API or an Azure OpenAI
// deployment. Safe for concurrent use.
type OpenAIEmbedder struct {
	// baseURL is https://api.openai.com/v1 or https://<resource>.openai.azure.com/openai.
	baseURL string
	// apiKey is sent as a bearer token (OpenAI) or api-key header (Azure).
	apiKey string
	// model is the model name, or the deployment name on Azure.
	model string
	// dimensions requests a truncated vector when positive.
	dimensions int
	// azure selects Azure routing and auth.
	azure bool
	// apiVersion is the Azure api-version query parameter.
	apiVersion string
	// client is the HTTP client.
	client *http.Client
}

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base.
	BaseURL string
	// APIKey is the credential.
	APIKey string
	// Model is the model or Azure deployment name.
	Model string
	// Dimensions requests a specific vector size (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode.
	Azure bool
	// APIVersion is the Azure API version; ignored otherwise.
	APIVersion string
	// Timeout bounds one request. Defaults to 30s.
	Timeout time.Duration
}

// NewOpenAIEmbedder builds an OpenAIEmbedder.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: timeout},
	}
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Model implements Embedder.
func (e *OpenAIEmbedder) Model() string { return e.model }

// endpoint returns the embeddings URL for the configured mode.
func (e *OpenAIEmbedder) endpoint() string {
	if e.azure {
		return e.baseURL + "/deployments/" + url.PathEscape(e.model) +
			"/embeddings?api-version=" + url.QueryEscape(e.apiVersion)
	}
	return e.baseURL + "/embeddings"
}

// Embed implements Embedder. Results are reordered by the index field the
// API returns.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	headers := map[string]string{"Authorization": "Bearer " + e.apiKey}
	if e.azure {
		headers = map[string]string{"api-key": e.apiKey}
	}

	var result openaiEmbedResponse
	err := postJSON(ctx, e.client, e.endpoint(), headers,
		openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}, &result,
		func() string {
			if result.Error != nil {
				return result.Error.Message
			}
			return ""
		})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(result.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
