package provider

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/docchat-go/internal/config"
)

// defaultModels is the model used per backend when MODEL_NAME is unset.
var defaultModels = map[Backend]string{
	BackendOllama:  "llama3.1",
	BackendOpenAI:  "gpt-4o-mini",
	BackendBedrock: "anthropic.claude-3-5-sonnet-20240620-v1:0",
	BackendGemini:  "gemini-1.5-flash",
}

// Option adjusts a Config after it is resolved from the environment.
type Option func(*Config)

// WithTemperature overrides the sampling temperature. The tabular agent uses
// 0 so generated SQL is stable.
func WithTemperature(t float32) Option {
	return func(c *Config) { c.Temperature = t }
}

// ConfigFromEnv resolves a Config from environment variables.
//
//	MODEL_PROVIDER     ollama | openai | azure | bedrock | gemini (default: ollama)
//	MODEL_NAME         overrides the per-backend default model
//	MODEL_MAX_TOKENS   default 2048
//	MODEL_TEMPERATURE  default 0.2
//
//	Ollama:  OLLAMA_HOST (default: http://localhost:11434)
//	OpenAI:  OPENAI_API_KEY, OPENAI_BASE_URL
//	Azure:   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	         AZURE_OPENAI_API_VERSION (default: 2024-10-21)
//	Bedrock: AWS_REGION (default: us-east-1), AWS_BEARER_TOKEN_BEDROCK
//	Gemini:  GOOGLE_API_KEY
func ConfigFromEnv() *Config {
	backend := Backend(strings.ToLower(config.String("MODEL_PROVIDER", string(BackendOllama))))
	cfg := &Config{
		Backend:     backend,
		Model:       config.String("MODEL_NAME", defaultModels[backend]),
		MaxTokens:   config.Int("MODEL_MAX_TOKENS", 2048),
		Temperature: config.Float32("MODEL_TEMPERATURE", 0.2),
	}

	switch backend {
	case BackendOllama:
		cfg.BaseURL = config.String("OLLAMA_HOST", "http://localhost:11434")
	case BackendOpenAI:
		cfg.APIKey = config.String("OPENAI_API_KEY", "")
		cfg.BaseURL = config.String("OPENAI_BASE_URL", "")
	case BackendAzure:
		cfg.APIKey = config.String("AZURE_OPENAI_API_KEY", "")
		cfg.BaseURL = config.String("AZURE_OPENAI_ENDPOINT", "")
		cfg.Model = config.String("AZURE_OPENAI_DEPLOYMENT", config.String("MODEL_NAME", ""))
		cfg.APIVersion = config.String("AZURE_OPENAI_API_VERSION", "2024-10-21")
	case BackendBedrock:
		cfg.Region = config.String("AWS_REGION", "us-east-1")
		cfg.APIKey = config.String("AWS_BEARER_TOKEN_BEDROCK", "")
	case BackendGemini:
		cfg.APIKey = config.String("GOOGLE_API_KEY", "")
	}
	return cfg
}

// NewFromEnv is New(ctx, ConfigFromEnv(), opts...).
func NewFromEnv(ctx context.Context, opts ...Option) (model.ToolCallingChatModel, error) {
	return New(ctx, ConfigFromEnv(), opts...)
}

// New validates cfg and constructs the backend it selects. cfg is copied
// before options apply, so one resolved Config can serve several models.
func New(ctx context.Context, cfg *Config, opts ...Option) (model.ToolCallingChatModel, error) {
	c := *cfg
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Backend {
	case BackendOllama:
		return newOllama(ctx, &c)
	case BackendOpenAI:
		return newOpenAI(ctx, &c)
	case BackendAzure:
		return newAzure(ctx, &c)
	case BackendBedrock:
		return newBedrock(ctx, &c)
	default:
		return newGemini(ctx, &c)
	}
}
