// Package provider constructs the chat model used for answer generation and
// the tabular agent. The backend is chosen at runtime from MODEL_PROVIDER.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Bedrock (via ark), Gemini.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported chat model providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock through the ark runtime client.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Config is the resolved chat model configuration. One flat struct covers all
// backends; Validate checks the fields the selected backend needs.
type Config struct {
	// Backend identifies which provider to use.
	Backend Backend
	// Model is the model name, or the deployment name on Azure.
	Model string
	// BaseURL is the API endpoint. Required for Azure; defaulted for Ollama.
	BaseURL string
	// APIKey is the credential. Unused for Ollama; Bedrock falls back to the
	// AWS credential chain when empty.
	APIKey string
	// APIVersion is the Azure REST API version.
	APIVersion string
	// Region is the Bedrock region.
	Region string
	// MaxTokens caps generated tokens per response.
	MaxTokens int
	// Temperature controls sampling randomness.
	Temperature float32
}

// Validate reports the first missing setting for the selected backend. Error
// messages name the environment variable to set.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Model == "" {
			return fmt.Errorf("provider: ollama requires MODEL_NAME")
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider: openai requires OPENAI_API_KEY")
		}
		if c.Model == "" {
			return fmt.Errorf("provider: openai requires MODEL_NAME")
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("provider: azure requires AZURE_OPENAI_API_KEY")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider: azure requires AZURE_OPENAI_ENDPOINT")
		}
		if c.Model == "" {
			return fmt.Errorf("provider: azure requires AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendBedrock:
		if c.Model == "" {
			return fmt.Errorf("provider: bedrock requires MODEL_NAME (Bedrock model ID)")
		}
		if c.Region == "" {
			return fmt.Errorf("provider: bedrock requires AWS_REGION")
		}
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: gemini requires GOOGLE_API_KEY")
		}
		if c.Model == "" {
			return fmt.Errorf("provider: gemini requires MODEL_NAME")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: ollama, openai, azure, bedrock, gemini)", c.Backend)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("provider: MODEL_TEMPERATURE %.2f out of range [0, 2]", c.Temperature)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment name refers to an
// o-series or codex model. Those reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	if strings.HasPrefix(d, "codex") {
		return true
	}
	if len(d) >= 2 && d[0] == 'o' && d[1] >= '1' && d[1] <= '9' {
		return len(d) == 2 || d[2] == '-'
	}
	return false
}
