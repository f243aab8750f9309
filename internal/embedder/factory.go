package embedder

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/docchat-go/internal/config"
)

// Default embedding models and dimensions per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-large"

	defaultOllamaDimensions = 768
	defaultOpenAIDimensions = 3072
)

// Config is the resolved embedding configuration.
type Config struct {
	// Backend is ollama, openai or azure.
	Backend string
	// Model is the embedding model or Azure deployment.
	Model string
	// Endpoint is the API base URL.
	Endpoint string
	// APIKey is the credential; unused for Ollama.
	APIKey string
	// Dimensions is the expected vector size.
	Dimensions int
	// APIVersion is the Azure API version.
	APIVersion string
	// Timeout bounds one request.
	Timeout time.Duration
}

// ConfigFromEnv resolves embedding settings, inheriting from the chat model
// settings where no EMBEDDING_* override exists:
//
//	EMBEDDING_PROVIDER   falls back to MODEL_PROVIDER, then ollama
//	EMBEDDING_ENDPOINT   falls back to OLLAMA_HOST / OPENAI_BASE_URL / AZURE_OPENAI_ENDPOINT
//	EMBEDDING_API_KEY    falls back to OPENAI_API_KEY / AZURE_OPENAI_API_KEY
//	EMBEDDING_MODEL      defaults to nomic-embed-text (ollama) or text-embedding-3-large
//	EMBEDDING_DIMENSIONS defaults to 768 (ollama) or 3072
func ConfigFromEnv() Config {
	backend := config.String("EMBEDDING_PROVIDER", config.String("MODEL_PROVIDER", "ollama"))
	cfg := Config{
		Backend: strings.ToLower(backend),
		Timeout: config.Duration("EMBEDDING_TIMEOUT", 0),
	}

	switch cfg.Backend {
	case "ollama":
		cfg.Endpoint = config.String("EMBEDDING_ENDPOINT", config.String("OLLAMA_HOST", "http://localhost:11434"))
		cfg.Model = config.String("EMBEDDING_MODEL", defaultOllamaModel)
		cfg.Dimensions = config.Int("EMBEDDING_DIMENSIONS", defaultOllamaDimensions)
	case "openai":
		cfg.Endpoint = config.String("EMBEDDING_ENDPOINT", config.String("OPENAI_BASE_URL", "https://api.openai.com/v1"))
		cfg.APIKey = config.String("EMBEDDING_API_KEY", config.String("OPENAI_API_KEY", ""))
		cfg.Model = config.String("EMBEDDING_MODEL", defaultOpenAIModel)
		cfg.Dimensions = config.Int("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
	case "azure":
		cfg.Endpoint = config.String("EMBEDDING_ENDPOINT", config.String("AZURE_OPENAI_ENDPOINT", ""))
		cfg.APIKey = config.String("EMBEDDING_API_KEY", config.String("AZURE_OPENAI_API_KEY", ""))
		cfg.Model = config.String("EMBEDDING_MODEL", defaultOpenAIModel)
		cfg.Dimensions = config.Int("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
		cfg.APIVersion = config.String("AZURE_OPENAI_API_VERSION", "2024-10-21")
	}
	return cfg
}

// Validate rejects configurations that cannot work and warns, via log, when
// the model name looks like a chat model.
func (c Config) Validate(log *slog.Logger) error {
	switch c.Backend {
	case "ollama":
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if c.Endpoint == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	default:
		return fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure); set EMBEDDING_PROVIDER", c.Backend)
	}

	if looksLikeChatModel(c.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, embeddings will likely be poor",
			slog.String("model", c.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-large"),
		)
	}
	return nil
}

// New builds the embedder described by cfg.
func New(cfg Config, log *slog.Logger) (Embedder, error) {
	if err := cfg.Validate(log); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{Host: cfg.Endpoint, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil
	default: // azure
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(cfg.Endpoint, "/") + "/openai",
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
			Timeout:    cfg.Timeout,
		}), nil
	}
}

// NewFromEnv is New(ConfigFromEnv(), log).
func NewFromEnv(log *slog.Logger) (Embedder, Config, error) {
	cfg := ConfigFromEnv()
	e, err := New(cfg, log)
	return e, cfg, err
}

// chatModelHints are name fragments of chat models that are not embedding
// models.
var chatModelHints = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3", "llama3", "llama2", "llama-3",
	"mistral", "mixtral", "gemma", "phi3", "claude", "deepseek", "qwen",
}

// looksLikeChatModel reports whether model resembles a chat model name.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, h := range chatModelHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}
