// Package config loads docchat configuration from an optional YAML file and
// an optional .env file, and exposes it to the rest of the program as
// environment variables. Precedence is defaults → .env / YAML → process env:
// a variable already present in the environment is never overwritten.
//
// YAML search order:
//  1. --config CLI flag (explicit path, must exist)
//  2. DOCCHAT_CONFIG environment variable
//  3. ~/.docchat/config.yaml
//  4. ./docchat.yaml
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the YAML document layout. Keys mirror the env var names they
// populate.
type Config struct {
	// Model configures the chat model used for answering and for the tabular agent.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Vector selects and tunes the embedding index backend.
	Vector VectorConfig `yaml:"vector"`

	// Qdrant configures the optional Qdrant backend.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Storage configures on-disk locations.
	Storage StorageConfig `yaml:"storage"`

	// RAG tunes chunking and retrieval.
	RAG RAGConfig `yaml:"rag"`

	// Agent tunes the tabular query agent.
	Agent AgentConfig `yaml:"agent"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, bedrock, gemini.
	Provider string `yaml:"provider"`
	// Name overrides the per-provider default model name.
	Name string `yaml:"name"`
	// MaxTokens caps the response length.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature is the sampling temperature for RAG answers.
	Temperature float32 `yaml:"temperature"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	// OpenAIAPIKey is the OpenAI key. Prefer OPENAI_API_KEY.
	OpenAIAPIKey string `yaml:"openai_api_key"`
	// OpenAIBaseURL points at an OpenAI-compatible endpoint.
	OpenAIBaseURL string `yaml:"openai_base_url"`
	// AzureEndpoint is the Azure OpenAI resource endpoint.
	AzureEndpoint string `yaml:"azure_endpoint"`
	// AzureDeployment is the Azure OpenAI deployment name.
	AzureDeployment string `yaml:"azure_deployment"`
	// AzureAPIVersion is the Azure OpenAI REST API version.
	AzureAPIVersion string `yaml:"azure_api_version"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `yaml:"aws_region"`
	// GoogleAPIKey is the Gemini key. Prefer GOOGLE_API_KEY.
	GoogleAPIKey string `yaml:"google_api_key"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: ollama, openai, azure.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize is the number of texts sent per embedding request.
	BatchSize int `yaml:"batch_size"`
}

// VectorConfig selects the index backend.
type VectorConfig struct {
	// Backend is local (directory per collection) or qdrant.
	Backend string `yaml:"backend"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	// Host is the Qdrant hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the connection.
	TLS bool `yaml:"tls"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	// DataDir is the root for indexes, tables, memory, uploads and the URL registry.
	DataDir string `yaml:"data_dir"`
}

// RAGConfig tunes chunking and retrieval.
type RAGConfig struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the overlap between consecutive chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// TopK is the number of chunks retrieved per question.
	TopK int `yaml:"top_k"`
	// HistoryDepth is how many prior messages are shown to the model.
	HistoryDepth int `yaml:"history_depth"`
	// MaxContextTokens caps the prompt size.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// AgentConfig tunes the tabular agent.
type AgentConfig struct {
	// MaxIterations bounds the tool-use loop.
	MaxIterations int `yaml:"max_iterations"`
	// Timeout bounds one agent run, as a Go duration string.
	Timeout string `yaml:"timeout"`
	// SampleRows is the number of rows shown to the model up front.
	SampleRows int `yaml:"sample_rows"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey enables bearer auth. Prefer DOCCHAT_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimitRPS is the per-IP request rate; zero disables limiting.
	RateLimitRPS float32 `yaml:"rate_limit_rps"`
	// RateLimitBurst is the per-IP burst size.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping ties each YAML field to the env var it feeds.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_NAME", func(c *Config) string { return c.Model.Name }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.OllamaHost }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAIAPIKey }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAIBaseURL }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.AzureEndpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.AzureDeployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.AzureAPIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.AWSRegion }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.GoogleAPIKey }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"VECTOR_BACKEND", func(c *Config) string { return c.Vector.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"DOCCHAT_DATA_DIR", func(c *Config) string { return c.Storage.DataDir }},
	{"RAG_CHUNK_SIZE", func(c *Config) string { return intStr(c.RAG.ChunkSize) }},
	{"RAG_CHUNK_OVERLAP", func(c *Config) string { return intStr(c.RAG.ChunkOverlap) }},
	{"RAG_TOP_K", func(c *Config) string { return intStr(c.RAG.TopK) }},
	{"RAG_HISTORY_DEPTH", func(c *Config) string { return intStr(c.RAG.HistoryDepth) }},
	{"RAG_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.RAG.MaxContextTokens) }},
	{"AGENT_MAX_ITERATIONS", func(c *Config) string { return intStr(c.Agent.MaxIterations) }},
	{"AGENT_TIMEOUT", func(c *Config) string { return c.Agent.Timeout }},
	{"AGENT_SAMPLE_ROWS", func(c *Config) string { return intStr(c.Agent.SampleRows) }},
	{"DOCCHAT_HOST", func(c *Config) string { return c.Server.Host }},
	{"DOCCHAT_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"DOCCHAT_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"DOCCHAT_RATE_LIMIT_RPS", func(c *Config) string { return float32Str(c.Server.RateLimitRPS) }},
	{"DOCCHAT_RATE_LIMIT_BURST", func(c *Config) string { return intStr(c.Server.RateLimitBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load applies ./.env and then the resolved YAML file to the process
// environment without overriding anything already set. It returns the YAML
// path that was applied, or "" when none was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := loadDotEnv(".env"); err != nil {
		return "", err
	}

	path, err := resolveConfigPath(explicitPath)
	if err != nil {
		return "", err
	}
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		v := m.value(&cfg)
		if v == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)
	return path, nil
}

// loadDotEnv applies a .env file if present. godotenv.Load never overrides
// variables that are already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath returns the first config file that exists. An explicit
// path that does not exist is an error; the implicit locations are optional.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{os.Getenv("DOCCHAT_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".docchat", "config.yaml"))
	}
	candidates = append(candidates, "docchat.yaml")

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// DataDir returns DOCCHAT_DATA_DIR, defaulting to ~/.docchat (or ./.docchat
// when the home directory cannot be resolved).
func DataDir() string {
	if v := os.Getenv("DOCCHAT_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docchat"
	}
	return filepath.Join(home, ".docchat")
}

func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(float64(v), 'f', 4, 32), "0"), ".")
}

func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
